package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/casefinder/models"
)

// entry holds a cached result with its creation timestamp.
type entry struct {
	result    models.MatchResult
	createdAt time.Time
}

// Cache is a simple in-memory cache of successful search results.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache holding at most maxEntries results for ttl each.
// A background goroutine evicts expired entries every ttl/2 (at least a
// minute) until Close is called.
func New(maxEntries int, ttl time.Duration) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Key generates a cache key from the normalized plate and driver name.
func Key(req models.SearchRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Plate))
	h.Write([]byte("|"))
	h.Write([]byte(req.DriverName))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result for key if it is younger than the TTL.
func (c *Cache) Get(key string) (*models.MatchResult, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.createdAt) > c.ttl {
		return nil, false
	}

	res := e.result
	res.Processed = append([]string(nil), e.result.Processed...)
	return &res, true
}

// Set stores a copy of res. If the cache is at capacity, a random entry is
// evicted to make room.
func (c *Cache) Set(key string, res *models.MatchResult) {
	if res == nil {
		return
	}
	stored := *res
	stored.Processed = append([]string(nil), res.Processed...)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		result:    stored,
		createdAt: c.now(),
	}
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) evictExpired() {
	cutoff := c.now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}

func (c *Cache) cleanupLoop() {
	interval := c.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}
