package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chatabc/open-safe-frame/internal/constraint"
)

func TestRegistry_GetOrCreate(t *testing.T) {
	var built []string
	r := NewRegistry(RegistryConfig{
		NewLedger: func(tenantID, key string) *constraint.Ledger {
			built = append(built, tenantID+"/"+key)
			return constraint.NewLedger(constraint.LedgerConfig{})
		},
	})
	defer r.Close()

	s1, created := r.GetOrCreate("t1", "a")
	assert.True(t, created)
	s2, created := r.GetOrCreate("t1", "a")
	assert.False(t, created)
	assert.Same(t, s1, s2)

	other, created := r.GetOrCreate("t2", "a")
	assert.True(t, created, "same key under another tenant is a different session")
	assert.NotSame(t, s1, other)
	assert.NotSame(t, s1.Ledger(), other.Ledger())

	assert.Equal(t, []string{"t1/a", "t2/a"}, built)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_End(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	s, _ := r.GetOrCreate("t", "a")

	assert.True(t, r.End("t", "a"))
	assert.False(t, r.End("t", "a"))
	assert.True(t, s.Closed())
	_, ok := r.Get("t", "a")
	assert.False(t, ok)

	fresh, created := r.GetOrCreate("t", "a")
	assert.True(t, created)
	assert.NotSame(t, s, fresh)
	r.Close()
	assert.True(t, fresh.Closed())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Sweep(t *testing.T) {
	r := NewRegistry(RegistryConfig{})
	defer r.Close()

	old, _ := r.GetOrCreate("t", "old")
	old.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())
	r.GetOrCreate("t", "new")

	assert.Equal(t, 1, r.Sweep(10*time.Minute))
	assert.True(t, old.Closed())
	_, ok := r.Get("t", "new")
	assert.True(t, ok)
}
