package auth

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/bcrypt"
)

var ErrNoSecret = errors.New("override secret not configured")

// OverrideSecret verifies the shared secret that unlocks privileged constraint
// operations and password confirmations. Only the bcrypt hash is kept.
type OverrideSecret struct {
	hash []byte
}

// NewOverrideSecret wraps an existing bcrypt hash.
func NewOverrideSecret(hash string) (*OverrideSecret, error) {
	if hash == "" {
		return nil, ErrNoSecret
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("NewOverrideSecret: %w", err)
	}
	return &OverrideSecret{hash: []byte(hash)}, nil
}

// SecretFromPlaintext hashes a plaintext secret and destroys the buffer holding it.
func SecretFromPlaintext(buf *memguard.LockedBuffer) (*OverrideSecret, error) {
	defer buf.Destroy()
	if buf.Size() == 0 {
		return nil, ErrNoSecret
	}
	hash, err := HashSecret(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &OverrideSecret{hash: []byte(hash)}, nil
}

// HashSecret returns the bcrypt hash to store for a plaintext secret.
func HashSecret(plain []byte) (string, error) {
	if len(plain) == 0 {
		return "", ErrNoSecret
	}
	hash, err := bcrypt.GenerateFromPassword(plain, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("HashSecret: %w", err)
	}
	return string(hash), nil
}

// Verify compares in constant time against the salted hash.
func (s *OverrideSecret) Verify(secret string) bool {
	if s == nil || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.hash, []byte(secret)) == nil
}
