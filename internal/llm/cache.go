package llm

import (
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/service"
)

// cacheEntry represents a cached suggestion.
type cacheEntry struct {
	expiry     time.Time
	suggestion service.CategorySuggestion
}

// suggestionCache provides thread-safe caching for provider answers. Expired
// entries are dropped when they are next looked up.
type suggestionCache struct {
	entries map[string]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	mu      sync.Mutex
}

// newSuggestionCache creates a new cache with the specified TTL.
func newSuggestionCache(ttl time.Duration) *suggestionCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &suggestionCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		ttl:     ttl,
	}
}

func (c *suggestionCache) get(key string) (service.CategorySuggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return service.CategorySuggestion{}, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return service.CategorySuggestion{}, false
	}
	return entry.suggestion, true
}

func (c *suggestionCache) set(key string, suggestion service.CategorySuggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		suggestion: suggestion,
		expiry:     c.now().Add(c.ttl),
	}
}

func (c *suggestionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
