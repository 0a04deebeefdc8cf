package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/campfirevalley/riverboat/internal/envelope"
)

const defaultCacheTTL = 30 * time.Minute

// ResponseCache memoizes approved camper responses per (claim, task)
// so an identical request inside the TTL skips the fan-out entirely.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	resp    *envelope.CamperResponse
	expires time.Time
}

// NewResponseCache returns a cache with the given TTL; ttl <= 0 takes
// the 30-minute default.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// SetClock replaces the cache's time source. Test hook.
func (c *ResponseCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// cacheKey hashes the claim and exact task text. OS and attachments
// are deliberately excluded: the fan-out's answer to the same task is
// considered stable across them within the TTL window.
func cacheKey(claim envelope.Claim, task string) string {
	h := sha256.New()
	h.Write([]byte(claim))
	h.Write([]byte{0})
	h.Write([]byte(task))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ResponseCache) Get(claim envelope.Claim, task string) (*envelope.CamperResponse, bool) {
	key := cacheKey(claim, task)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	clone := *entry.resp
	return &clone, true
}

func (c *ResponseCache) Put(claim envelope.Claim, task string, resp *envelope.CamperResponse) {
	key := cacheKey(claim, task)
	clone := *resp
	c.mu.Lock()
	c.entries[key] = cacheEntry{resp: &clone, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
