// ABOUTME: TTL and size bounded cache of Idempotency-Key values
// ABOUTME: Maps a client key to the conversation id its first request created

package dedupe

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache remembers the result of idempotent requests for a limited time. When
// full, the least recently used key is evicted first.
type Cache struct {
	lru *expirable.LRU[string, string]
}

// New creates a cache holding at most maxSize keys for ttl each. A maxSize of
// zero leaves the size unbounded.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{lru: expirable.NewLRU[string, string](max(maxSize, 0), nil, ttl)}
}

// Get returns the value stored for key if it has not expired.
func (c *Cache) Get(key string) (string, bool) {
	return c.lru.Get(key)
}

// Put stores value for key, replacing any previous value and restarting its
// TTL.
func (c *Cache) Put(key, value string) {
	c.lru.Add(key, value)
}

// Len returns the number of stored entries. Expired entries may be counted
// until the background sweep removes them.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Close drops every entry. It is safe to call multiple times.
func (c *Cache) Close() {
	c.lru.Purge()
}
