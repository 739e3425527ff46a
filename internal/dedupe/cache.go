// ABOUTME: Bounded TTL set of recently seen keys with an injectable clock.
// ABOUTME: Throttles repeated work per key, such as JWKS refetches for unknown key ids.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Cache remembers keys for a fixed window. Oldest keys are evicted first when
// the cache is full.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache that forgets keys after ttl and holds at most maxSize.
// Expired keys are swept in the background every ttl (at least once a second).
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop(max(ttl, time.Second))
	return c
}

// Seen reports whether key was recorded within the window.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Allow records key and returns true unless it was already recorded within the
// window. The check and the record happen atomically.
func (c *Cache) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return false
	}
	c.recordLocked(key)
	return true
}

// Forget removes key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.order.Remove(el)
		delete(c.index, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache) liveLocked(key string) bool {
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return c.now().Sub(el.Value.(*entry).seen) < c.ttl
}

func (c *Cache) recordLocked(key string) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry).seen = c.now()
		c.order.MoveToBack(el)
		return
	}
	if len(c.index) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			delete(c.index, front.Value.(*entry).key)
			c.order.Remove(front)
		}
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: c.now()})
}

// Sweep drops expired keys and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	// Entries are ordered by last record time, so stop at the first live one.
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			break
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.index, e.key)
		removed++
		el = next
	}
	return removed
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
