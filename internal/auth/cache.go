package auth

import (
	"sync"
	"time"
)

// AuthCache memoizes key verification with stale-while-revalidate semantics:
// a fresh entry is served as-is, a stale entry is still served but exactly
// one caller per staleness episode is told to refresh it in the background.
type AuthCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*cacheEntry // keyed by full API key
}

type cacheEntry struct {
	agent      *AgentContext
	staleAfter time.Time
	refreshing bool
}

// AuthCacheGetResult holds the result of a cache lookup.
type AuthCacheGetResult struct {
	Agent        *AgentContext
	Hit          bool
	NeedsRefresh bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// Get looks up an entry and, when it is stale, claims the refresh for the
// first caller to see it.
func (c *AuthCache) Get(apiKey string) AuthCacheGetResult {
	c.mu.RLock()
	entry, ok := c.entries[apiKey]
	if !ok {
		c.mu.RUnlock()
		return AuthCacheGetResult{}
	}
	agent := entry.agent
	fresh := time.Now().Before(entry.staleAfter)
	c.mu.RUnlock()

	if fresh {
		return AuthCacheGetResult{Agent: agent, Hit: true}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	claimed := !entry.refreshing
	entry.refreshing = true
	return AuthCacheGetResult{Agent: agent, Hit: true, NeedsRefresh: claimed}
}

// Set stores an agent context with a fresh TTL, clearing any refresh claim.
func (c *AuthCache) Set(apiKey string, agent *AgentContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[apiKey] = &cacheEntry{agent: agent, staleAfter: time.Now().Add(c.ttl)}
}

// Delete removes an entry, forcing the next lookup back to the store.
func (c *AuthCache) Delete(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, apiKey)
}
