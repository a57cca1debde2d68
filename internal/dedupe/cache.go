// ABOUTME: Thread-safe TTL cache of recently submitted request IDs
// ABOUTME: The web shell claims each send's request ID here so a double submit is rejected

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	claimedAt time.Time
	element   *list.Element
}

// Cache remembers claimed keys for a TTL, holding at most maxSize of them.
// The oldest claim is evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	claimed map[string]*cacheEntry
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and capacity and starts a
// background sweep of expired keys. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		claimed: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

// Key scopes a client request ID to the session that sent it.
func Key(sessionID, requestID string) string {
	return sessionID + "/" + requestID
}

// sweepInterval runs sweeps about twice per TTL, between one second and one minute.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 2
	if interval < time.Second {
		return time.Second
	}
	if interval > time.Minute {
		return time.Minute
	}
	return interval
}

// Claim records key and reports whether it was free. A false result means
// the key was claimed within the TTL: the request is a duplicate.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.claimed[key]; ok {
		if now.Sub(entry.claimedAt) < c.ttl {
			return false
		}
		c.removeLocked(key, entry)
	}

	if len(c.claimed) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.removeLocked(oldest, c.claimed[oldest])
		}
	}

	c.claimed[key] = &cacheEntry{
		claimedAt: now,
		element:   c.order.PushBack(key),
	}
	return true
}

// Release forgets key so it can be claimed again, e.g. after a request
// failed before doing any work.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.claimed[key]; ok {
		c.removeLocked(key, entry)
	}
}

// Claimed reports whether key is currently claimed.
func (c *Cache) Claimed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.claimed[key]
	return ok && c.now().Sub(entry.claimedAt) < c.ttl
}

// Len returns the number of keys held, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claimed)
}

// removeLocked must be called with mu held.
func (c *Cache) removeLocked(key string, entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.claimed, key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Claims are ordered by time, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		entry := c.claimed[key]
		if now.Sub(entry.claimedAt) < c.ttl {
			return
		}
		c.removeLocked(key, entry)
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
