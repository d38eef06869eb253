package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProfileCache is a TTL cache with stale-while-revalidate for tool profiles.
type ProfileCache struct {
	store sync.Map // map[string]*profileCacheEntry
	ttl   time.Duration
}

type profileCacheEntry struct {
	profile    *ToolProfile // nil = negative cache (no profile)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Profile      *ToolProfile // nil if not found or negative cache
	Hit          bool
	NeedsRefresh bool
}

func NewProfileCache(ttl time.Duration) *ProfileCache {
	return &ProfileCache{ttl: ttl}
}

func cacheKey(tenantID, toolName string) string {
	return tenantID + ":" + toolName
}

// Get returns stale entries with NeedsRefresh=true for exactly one caller.
func (c *ProfileCache) Get(tenantID, toolName string) CacheGetResult {
	val, ok := c.store.Load(cacheKey(tenantID, toolName))
	if !ok {
		return CacheGetResult{}
	}
	entry := val.(*profileCacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return CacheGetResult{Profile: entry.profile, Hit: true}
	}
	return CacheGetResult{
		Profile:      entry.profile,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a profile with a fresh TTL. nil records that the tool has no profile.
func (c *ProfileCache) Set(tenantID, toolName string, p *ToolProfile) {
	c.store.Store(cacheKey(tenantID, toolName), &profileCacheEntry{
		profile:   p,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *ProfileCache) Delete(tenantID, toolName string) {
	c.store.Delete(cacheKey(tenantID, toolName))
}
