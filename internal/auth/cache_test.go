package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("sfk_abc123", &TenantContext{TenantID: "t1", Mode: ModeEnforce})

	result := cache.Get("sfk_abc123")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Tenant.TenantID != "t1" {
		t.Errorf("expected t1, got %s", result.Tenant.TenantID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	result := cache.Get("sfk_nonexistent")
	if result.Hit || result.Tenant != nil || result.NeedsRefresh {
		t.Errorf("expected empty miss, got %+v", result)
	}
}

func TestCache_StaleHit_SingleRefresher(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	cache.Set("sfk_abc123", &TenantContext{TenantID: "t1"})
	time.Sleep(5 * time.Millisecond)

	var refreshers atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := cache.Get("sfk_abc123")
			if !r.Hit || r.Tenant.TenantID != "t1" {
				t.Error("stale hit should still return the tenant")
			}
			if r.NeedsRefresh {
				refreshers.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := refreshers.Load(); got != 1 {
		t.Errorf("expected exactly 1 refresher, got %d", got)
	}
}

func TestCache_Delete(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	cache.Set("sfk_abc123", &TenantContext{TenantID: "t1"})
	cache.Delete("sfk_abc123")

	if cache.Get("sfk_abc123").Hit {
		t.Error("expected miss after delete")
	}
}
