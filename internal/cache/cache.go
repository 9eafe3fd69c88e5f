package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Observer receives hit/miss notifications per key class
type Observer interface {
	RecordCacheHit(class string)
	RecordCacheMiss(class string)
}

// Options configures a Cache
type Options struct {
	MaxEntries    int64
	SweepInterval time.Duration // zero disables the background sweep
	Remote        Tier          // optional second level
	Observer      Observer      // optional
	Now           func() time.Time
	// ComputeTimeout bounds one shared computation. The flight is detached from the
	// caller that started it, so a cancelled caller never fails its peers.
	ComputeTimeout time.Duration
}

// DefaultComputeTimeout applies when Options.ComputeTimeout is zero
const DefaultComputeTimeout = 2 * time.Minute

// Cache is a TTL store with single-flight get-or-compute. It is the only shared
// mutable state in the engine; callers never receive references into it.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int64
	stats      cacheStats

	group          singleflight.Group
	remote         Tier
	observer       Observer
	now            func() time.Time
	computeTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value    any
	expires  time.Time
	accessed time.Time
}

type cacheStats struct {
	hits        int64
	misses      int64
	computes    int64
	evictions   int64
	cleanupRuns int64
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries     int     `json:"entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Computes    int64   `json:"computes"`
	Evictions   int64   `json:"evictions"`
	CleanupRuns int64   `json:"cleanup_runs"`
	HitRatio    float64 `json:"hit_ratio"`
}

// New creates a cache and starts the periodic sweep when configured
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = DefaultComputeTimeout
	}

	c := &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: opts.MaxEntries,
		remote:     opts.Remote,
		observer:   opts.Observer,
		now:        opts.Now,
		stopCh:     make(chan struct{}),

		computeTimeout: opts.ComputeTimeout,
	}

	if opts.SweepInterval > 0 {
		go c.sweep(opts.SweepInterval)
	}

	return c
}

// Key builds a cache key of the form class:part1:part2
func Key(class string, parts ...any) string {
	var b strings.Builder
	b.WriteString(class)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// ClassOf returns the key class prefix
func ClassOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Get retrieves a value if present and not expired. Expired entries are dropped.
func (c *Cache) Get(key string) (any, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.stats.misses++
		return nil, false
	}
	if !now.Before(entry.expires) {
		delete(c.entries, key)
		c.stats.misses++
		c.stats.evictions++
		return nil, false
	}

	entry.accessed = now
	c.stats.hits++
	return entry.value, true
}

// Set stores a value with TTL
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && int64(len(c.entries)) >= c.maxEntries {
		c.evictLRU()
	}

	c.entries[key] = &cacheEntry{
		value:    value,
		expires:  now.Add(ttl),
		accessed: now,
	}
}

// Delete drops a key from memory
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Invalidate drops a key from every tier. A flight already running for the key
// is forgotten, so the next caller starts a fresh computation.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.Delete(key)
	c.group.Forget(key)
	if c.remote != nil {
		c.remote.Delete(ctx, key)
	}
}

// GetOrCompute returns the cached value for key or runs compute exactly once across
// concurrent callers. Errors are returned to every waiter and never cached. compute
// runs on a context detached from the caller and bounded by ComputeTimeout; each
// caller stops waiting when its own ctx is done.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (any, error)) (any, error) {
	return c.getOrCompute(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		v, err := compute(ctx)
		return v, ttl, err
	})
}

// getOrCompute is GetOrCompute where compute also decides how long the value stays valid
func (c *Cache) getOrCompute(ctx context.Context, key string, compute func(context.Context) (any, time.Duration, error)) (any, error) {
	class := ClassOf(key)
	if v, ok := c.Get(key); ok {
		c.observeHit(class)
		return v, nil
	}
	c.observeMiss(class)

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// a peer may have filled the key between our miss and the flight starting
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		c.mu.Lock()
		c.stats.computes++
		c.mu.Unlock()

		fctx, cancel := context.WithTimeout(flightCtx, c.computeTimeout)
		defer cancel()

		v, ttl, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.Set(key, v, ttl)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// remoteEntry is the JSON envelope kept in the remote tier. ExpiresAt lets a reader
// keep the value only for the time the writer granted.
type remoteEntry struct {
	ExpiresAt int64           `json:"exp"` // unix milliseconds
	Value     json.RawMessage `json:"v"`
}

// Fetch is the typed form of GetOrCompute. When a remote tier is configured it is
// consulted before compute and filled after it. A remote hit is kept in memory only
// for the remainder of its original TTL.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return compute(ctx)
	}

	v, err := c.getOrCompute(ctx, key, func(ctx context.Context) (any, time.Duration, error) {
		if c.remote != nil {
			if out, remaining, ok := fetchRemote[T](ctx, c, key); ok {
				return out, remaining, nil
			}
		}

		out, err := compute(ctx)
		if err != nil {
			return nil, 0, err
		}

		if c.remote != nil {
			c.storeRemote(ctx, key, out, ttl)
		}
		return out, ttl, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T", key, v)
	}
	return typed, nil
}

func fetchRemote[T any](ctx context.Context, c *Cache, key string) (T, time.Duration, bool) {
	var out T
	raw, ok := c.remote.Get(ctx, key)
	if !ok {
		return out, 0, false
	}

	var entry remoteEntry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Value) == 0 {
		log.Debug().Str("key", key).Msg("discarding undecodable remote cache entry")
		return out, 0, false
	}
	remaining := time.UnixMilli(entry.ExpiresAt).Sub(c.now())
	if remaining <= 0 {
		return out, 0, false
	}
	if err := json.Unmarshal(entry.Value, &out); err != nil {
		log.Debug().Str("key", key).Msg("discarding undecodable remote cache entry")
		return out, 0, false
	}
	return out, remaining, true
}

func (c *Cache) storeRemote(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	raw, err := json.Marshal(remoteEntry{ExpiresAt: c.now().Add(ttl).UnixMilli(), Value: payload})
	if err != nil {
		return
	}
	c.remote.Set(ctx, key, raw, ttl)
}

// Stats returns cache performance statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.hits + c.stats.misses
	ratio := 0.0
	if total > 0 {
		ratio = float64(c.stats.hits) / float64(total)
	}

	return Stats{
		Entries:     len(c.entries),
		Hits:        c.stats.hits,
		Misses:      c.stats.misses,
		Computes:    c.stats.computes,
		Evictions:   c.stats.evictions,
		CleanupRuns: c.stats.cleanupRuns,
		HitRatio:    ratio,
	}
}

// Stop shuts down the sweep goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently used entry (caller must hold write lock)
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldest time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldest) {
			oldest = entry.accessed
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions++
	}
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired drops every expired entry; the background sweep calls it periodically
func (c *Cache) RemoveExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			removed++
		}
	}

	c.stats.evictions += int64(removed)
	c.stats.cleanupRuns++
	return removed
}

func (c *Cache) observeHit(class string) {
	if c.observer != nil {
		c.observer.RecordCacheHit(class)
	}
}

func (c *Cache) observeMiss(class string) {
	if c.observer != nil {
		c.observer.RecordCacheMiss(class)
	}
}
