package auth

import (
	"errors"
	"testing"

	"github.com/awnumar/memguard"
)

func TestOverrideSecret_Verify(t *testing.T) {
	hash, err := HashSecret([]byte("open-sesame"))
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	s, err := NewOverrideSecret(hash)
	if err != nil {
		t.Fatalf("NewOverrideSecret: %v", err)
	}

	if !s.Verify("open-sesame") {
		t.Error("expected the correct secret to verify")
	}
	for _, wrong := range []string{"", "open-sesam", "open-sesame ", "OPEN-SESAME"} {
		if s.Verify(wrong) {
			t.Errorf("expected %q to be rejected", wrong)
		}
	}
}

func TestOverrideSecret_NilNeverVerifies(t *testing.T) {
	var s *OverrideSecret
	if s.Verify("anything") {
		t.Error("nil secret must reject everything")
	}
}

func TestNewOverrideSecret_Invalid(t *testing.T) {
	if _, err := NewOverrideSecret(""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
	if _, err := NewOverrideSecret("plaintext-not-a-hash"); err == nil {
		t.Error("expected an error for a non-bcrypt value")
	}
}

func TestSecretFromPlaintext_DestroysBuffer(t *testing.T) {
	buf := memguard.NewBufferFromBytes([]byte("hunter2"))

	s, err := SecretFromPlaintext(buf)
	if err != nil {
		t.Fatalf("SecretFromPlaintext: %v", err)
	}
	if buf.IsAlive() {
		t.Error("expected the plaintext buffer to be destroyed")
	}
	if !s.Verify("hunter2") {
		t.Error("expected the secret to verify")
	}
}
