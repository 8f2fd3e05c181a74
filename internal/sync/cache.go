package sync

import (
	"net/url"
	"strconv"
	"sync"
	"time"
)

type cacheEntry struct {
	data      []byte
	tag       string
	expiresAt time.Time
}

// Cache keeps read responses for a limited time. Entries carry a tag naming
// the entity they describe so a write can drop everything it made stale.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

// NewCache creates a cache whose entries live for ttl. A ttl of zero disables caching.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Tag builds the tag of an entity
func Tag(component string, entityID int64) string {
	return component + ":" + strconv.FormatInt(entityID, 10)
}

// CacheKey builds the key of a web service call
func CacheKey(function string, params url.Values) string {
	return function + "?" + params.Encode()
}

// Get returns a live entry
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	return e.data, true
}

// Set stores data under key and tag
func (c *Cache) Set(key, tag string, data []byte) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	c.entries[key] = cacheEntry{data: data, tag: tag, expiresAt: c.now().Add(c.ttl)}
	if tag != "" {
		if c.tags[tag] == nil {
			c.tags[tag] = make(map[string]struct{})
		}
		c.tags[tag][key] = struct{}{}
	}
}

// Invalidate drops every entry carrying tag
func (c *Cache) Invalidate(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.tags[tag] {
		delete(c.entries, key)
	}
	delete(c.tags, tag)
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.tags = make(map[string]map[string]struct{})
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if keys := c.tags[e.tag]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.tags, e.tag)
		}
	}
}
