package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// cache is a TTL-based in-memory cache with stale-while-revalidate, used for
// both system and endpoint rows. sync.Map keeps reads lock-free on the hot
// path.
type cache[T any] struct {
	store sync.Map // map[string]*cacheEntry[T]
	ttl   time.Duration
}

type cacheEntry[T any] struct {
	val        *T // nil = negative cache (row not found)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// cacheResult holds the outcome of a cache lookup.
type cacheResult[T any] struct {
	Val          *T   // nil if not found or negative cache
	Hit          bool // a value was found, fresh or stale
	NeedsRefresh bool // expired — caller should refresh in background
}

func newCache[T any](ttl time.Duration) *cache[T] {
	return &cache[T]{ttl: ttl}
}

// get performs a non-blocking lookup. Stale entries are returned with
// NeedsRefresh=true; only one caller wins the refresh signal.
func (c *cache[T]) get(key string) cacheResult[T] {
	v, ok := c.store.Load(key)
	if !ok {
		return cacheResult[T]{}
	}
	entry := v.(*cacheEntry[T])
	if time.Now().Before(entry.expiresAt) {
		return cacheResult[T]{Val: entry.val, Hit: true}
	}
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return cacheResult[T]{Val: entry.val, Hit: true, NeedsRefresh: needsRefresh}
}

// set stores a value with a fresh TTL. Passing nil stores a negative entry.
func (c *cache[T]) set(key string, val *T) {
	c.store.Store(key, &cacheEntry[T]{
		val:       val,
		expiresAt: time.Now().Add(c.ttl),
	})
}
