package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultCacheTTL is how long backend results are reused.
const DefaultCacheTTL = 60 * time.Second

// ResultCache stores encoded backend results by key.
type ResultCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte)
}

// MemoryCache is a TTL cache backed by sync.Map. Expired entries are dropped on read.
type MemoryCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	val       []byte
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{ttl: ttl}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.store.Load(key)
	if !ok {
		return nil, false
	}
	entry := v.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.store.CompareAndDelete(key, entry)
		return nil, false
	}
	return entry.val, true
}

func (c *MemoryCache) Set(key string, val []byte) {
	c.store.Store(key, &cacheEntry{val: val, expiresAt: time.Now().Add(c.ttl)})
}

// BadgerCache persists backend results in a badger database using native entry TTLs.
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerCache opens (or creates) a cache directory. An empty dir opens an in-memory store.
func OpenBadgerCache(dir string, ttl time.Duration) (*BadgerCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("OpenBadgerCache: %w", err)
	}
	return &BadgerCache{db: db, ttl: ttl}, nil
}

func (c *BadgerCache) Get(key string) ([]byte, bool) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set is best effort; a failed write only costs a future cache miss.
func (c *BadgerCache) Set(key string, val []byte) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), val).WithTTL(c.ttl))
	})
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("BadgerCache.Close: %w", err)
	}
	return nil
}
