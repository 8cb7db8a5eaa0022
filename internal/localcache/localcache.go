// Package localcache coalesces concurrent renders of the same URL inside one process
// and keeps successful results resident.
package localcache

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/metrics"
	"github.com/edgecomet/rendeer/pkg/types"
)

// Local cache events reported to metrics
const (
	EventHit       = "hit"
	EventMiss      = "miss"
	EventCoalesced = "coalesced"
	EventDelete    = "delete"
	EventEviction  = "eviction"
)

// ErrEmptyResult is reported when a factory returns neither a result nor an error
var ErrEmptyResult = errors.New("render produced no result")

// Factory produces the result for a key. It runs at most once per registered entry.
type Factory func() (*types.RenderResult, error)

// Pending is a shared render that resolves exactly once
type Pending struct {
	done   chan struct{}
	result *types.RenderResult
	err    error
}

// Done is closed when the render has resolved
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the render resolves or ctx ends. Cancelling ctx does not stop the render.
func (p *Pending) Wait(ctx context.Context) (*types.RenderResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cache maps a normalized URL to an in-flight or resolved render.
// In-flight entries are never evicted; resolved 2xx entries stay resident until
// invalidated or, with a capacity, evicted in LRU order.
type Cache struct {
	mu       sync.Mutex
	inflight map[string]*Pending
	resident *lru.Cache[string, *Pending] // nil when unbounded
	pinned   map[string]*Pending          // used when unbounded

	metrics *metrics.MetricsCollector
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New creates a cache. capacity 0 keeps every successful result.
func New(capacity int, mc *metrics.MetricsCollector, logger *zap.Logger) (*Cache, error) {
	c := &Cache{
		inflight: make(map[string]*Pending),
		metrics:  mc,
		logger:   logger,
	}

	if capacity > 0 {
		resident, err := lru.New[string, *Pending](capacity)
		if err != nil {
			return nil, err
		}
		c.resident = resident
	} else {
		c.pinned = make(map[string]*Pending)
	}

	return c, nil
}

// GetOrCreate returns the entry for key, registering factory when there is none.
// Exactly one caller wins the registration; created reports whether it was this one.
// The factory runs on its own goroutine and is not tied to any caller's lifetime.
func (c *Cache) GetOrCreate(key string, factory Factory) (p *Pending, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.lookupResident(key); ok {
		c.metrics.RecordLocalCache(EventHit)
		return p, false
	}
	if p, ok := c.inflight[key]; ok {
		c.metrics.RecordLocalCache(EventCoalesced)
		return p, false
	}

	c.metrics.RecordLocalCache(EventMiss)
	p = &Pending{done: make(chan struct{})}
	c.inflight[key] = p
	c.publishSize()

	c.wg.Add(1)
	go c.run(key, p, factory)

	return p, true
}

func (c *Cache) run(key string, p *Pending, factory Factory) {
	defer c.wg.Done()

	result, err := factory()
	if err == nil && result == nil {
		err = ErrEmptyResult
	}

	c.mu.Lock()
	p.result, p.err = result, err
	delete(c.inflight, key)
	if err == nil && result.IsCacheable() {
		c.storeResident(key, p)
	} else {
		c.metrics.RecordLocalCache(EventDelete)
		c.logger.Debug("[local] delete", zap.String("url", key), zap.Int("status", result.EffectiveStatus()), zap.Error(err))
	}
	c.publishSize()
	c.mu.Unlock()

	close(p.done)
}

// Invalidate drops a resolved entry. In-flight renders are left alone.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	if c.resident != nil {
		removed = c.resident.Remove(key)
	} else if _, ok := c.pinned[key]; ok {
		delete(c.pinned, key)
		removed = true
	}

	if removed {
		c.publishSize()
	}
	return removed
}

// Len counts in-flight and resident entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lenLocked()
}

// Wait blocks until every started factory has returned
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) lookupResident(key string) (*Pending, bool) {
	if c.resident != nil {
		return c.resident.Get(key)
	}
	p, ok := c.pinned[key]
	return p, ok
}

func (c *Cache) storeResident(key string, p *Pending) {
	if c.resident != nil {
		if evicted := c.resident.Add(key, p); evicted {
			c.metrics.RecordLocalCache(EventEviction)
			c.logger.Debug("[local] evicted least recently used entry", zap.String("added", key))
		}
		return
	}
	c.pinned[key] = p
}

func (c *Cache) lenLocked() int {
	if c.resident != nil {
		return len(c.inflight) + c.resident.Len()
	}
	return len(c.inflight) + len(c.pinned)
}

func (c *Cache) publishSize() {
	c.metrics.SetLocalCacheEntries(c.lenLocked())
}
