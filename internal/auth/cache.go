package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache is a TTL cache of authenticated tenants keyed by API key.
//
// Stale-while-revalidate: an expired entry is still returned, with
// NeedsRefresh set for exactly one caller, so no request blocks on
// DB + bcrypt after the first lookup.
type AuthCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	tenant     *TenantContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Tenant       *TenantContext
	Hit          bool
	NeedsRefresh bool
}

func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Tenant: entry.tenant, Hit: true}
	}
	return GetResult{
		Tenant:       entry.tenant,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

func (c *AuthCache) Set(apiKey string, tenant *TenantContext) {
	c.store.Store(apiKey, &cacheEntry{
		tenant:    tenant,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
