package urlcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a cached signed URL and the instant it stops being served.
type entry struct {
	url     string
	expires time.Time
}

// Cache memoizes signed URLs per object state. The key covers the bucket,
// the object key and the ETag, so overwriting an object invalidates its
// cached URL implicitly.
type Cache struct {
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	sf      singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFlightTimeout bounds a shared computation. The computation outlives
// the caller that started it, so it cannot run on that caller's deadline.
func WithFlightTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a cache whose entries live for ttl. Keys are namespaced with
// prefix.
func New(prefix string, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		prefix:  prefix,
		ttl:     ttl,
		timeout: defaultFlightTimeout,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for an object state.
func (c *Cache) Key(bucket, key, etag string) string {
	h := sha256.New()
	h.Write([]byte(bucket))
	h.Write([]byte{0})
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(etag))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

// TTL returns the lifetime of new entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns a fresh cached URL.
func (c *Cache) Get(bucket, key, etag string) (string, bool) {
	k := c.Key(bucket, key, etag)

	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[k]; ok && cur == e {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return "", false
	}
	return e.url, true
}

// Set stores a URL for an object state.
func (c *Cache) Set(bucket, key, etag, url string) {
	if c.ttl <= 0 {
		return
	}
	k := c.Key(bucket, key, etag)
	now := c.now()

	c.mu.Lock()
	c.entries[k] = entry{url: url, expires: now.Add(c.ttl)}
	c.pruneLocked(now, pruneThreshold)
	c.mu.Unlock()
}

// GetOrCompute returns the cached URL for an object state, or calls compute
// and caches its result. Concurrent misses for the same state share one
// call. Public URLs and a nil or zero-TTL cache bypass storage entirely.
func (c *Cache) GetOrCompute(ctx context.Context, bucket, key, etag string, public bool, compute func(ctx context.Context) (string, error)) (string, error) {
	if c == nil || c.ttl <= 0 || public {
		return compute(ctx)
	}

	// Fast path
	if url, ok := c.Get(bucket, key, etag); ok {
		return url, nil
	}

	// Slow path: compute once per key
	result, err, _ := c.sf.Do(c.Key(bucket, key, etag), func() (interface{}, error) {
		if url, ok := c.Get(bucket, key, etag); ok {
			return url, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		url, err := compute(fctx)
		if err != nil {
			return "", err
		}
		c.Set(bucket, key, etag, url)
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the entry for an object state.
func (c *Cache) Invalidate(bucket, key, etag string) {
	k := c.Key(bucket, key, etag)
	c.mu.Lock()
	delete(c.entries, k)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not. A nil cache is
// empty.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// pruneLocked drops expired entries once the map holds at least min entries.
func (c *Cache) pruneLocked(now time.Time, min int) {
	if len(c.entries) < min {
		return
	}
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}

const (
	pruneThreshold       = 1024
	defaultFlightTimeout = 30 * time.Second
)
