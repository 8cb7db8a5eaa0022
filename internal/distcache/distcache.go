// Package distcache is the optional shared cache tier in front of the local coalescing cache.
// Every failure degrades to a miss; writes are asynchronous and best-effort.
package distcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
	"github.com/edgecomet/rendeer/internal/metrics"
	"github.com/edgecomet/rendeer/pkg/types"
)

// Distributed cache events reported to metrics
const (
	EventHit         = "hit"
	EventMiss        = "miss"
	EventError       = "error"
	EventSet         = "set"
	EventDropped     = "dropped"
	EventDelete      = "delete"
	EventBreakerOpen = "breaker_open"
)

var (
	// ErrQueueFull is reported when an async write is dropped
	ErrQueueFull = errors.New("distributed cache write queue full")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("distributed cache closed")
)

type writeJob struct {
	key   string
	entry *Entry
}

// Client reads and writes rendered pages in a shared Store
type Client struct {
	store   Store
	codec   *Codec
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	breaker circuitbreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	closed bool
	queue  chan writeJob
	wg     sync.WaitGroup

	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

// NewFromConfig builds the configured backend and wraps it in a Client
func NewFromConfig(cfg configtypes.DistributedCacheConfig, mc *metrics.MetricsCollector, logger *zap.Logger) (*Client, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case configtypes.BackendMemcached:
		store, err = newMemcachedStore(cfg.Hosts, cfg.Timeout.ToDuration())
	case configtypes.BackendRedis:
		store, err = newRedisStore(cfg.Hosts, cfg.Redis, cfg.Timeout.ToDuration(), logger)
	default:
		err = fmt.Errorf("unknown distributed cache backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	client, err := New(store, cfg, mc, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("Distributed cache enabled",
		zap.String("backend", cfg.Backend),
		zap.Strings("hosts", cfg.Hosts),
		zap.String("compression", client.codec.algorithm),
		zap.Duration("expiry", client.ttl))

	return client, nil
}

// New wraps store and starts the write workers
func New(store Store, cfg configtypes.DistributedCacheConfig, mc *metrics.MetricsCollector, logger *zap.Logger) (*Client, error) {
	codec, err := NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	writers := cfg.Writers
	if writers <= 0 {
		writers = 1
	}

	c := &Client{
		store:   store,
		codec:   codec,
		prefix:  cfg.Prefix,
		ttl:     cfg.Expiry.ToDuration(),
		timeout: cfg.Timeout.ToDuration(),
		queue:   make(chan writeJob, cfg.QueueSize),
		metrics: mc,
		logger:  logger,
	}

	c.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(cfg.Breaker.FailureThreshold).
		WithDelay(cfg.Breaker.Delay.ToDuration()).
		OnOpen(func(event circuitbreaker.StateChangedEvent) {
			logger.Warn("Distributed cache circuit breaker opened", zap.Stringer("from", event.OldState))
		}).
		OnClose(func(event circuitbreaker.StateChangedEvent) {
			logger.Info("Distributed cache circuit breaker closed", zap.Stringer("from", event.OldState))
		}).
		Build()

	c.wg.Add(writers)
	for i := 0; i < writers; i++ {
		go c.writer()
	}

	return c, nil
}

// Key returns the storage key for a normalized URL
func (c *Client) Key(url string) string {
	return Digest(c.prefix, url)
}

// Get looks url up. Errors are logged and reported as a miss.
func (c *Client) Get(ctx context.Context, url string) (*types.RenderResult, bool) {
	key := c.Key(url)

	var value []byte
	var found bool
	err := c.guard(func() error {
		opCtx, cancel := c.opContext(ctx)
		defer cancel()

		var err error
		value, found, err = c.store.Get(opCtx, key)
		return err
	})
	if err != nil {
		c.logFailure("get", key, url, err)
		return nil, false
	}
	if !found {
		c.metrics.RecordDistCache(EventMiss)
		return nil, false
	}

	entry, err := c.codec.Decode(value)
	if err != nil {
		c.metrics.RecordDistCache(EventError)
		c.logger.Warn("[dist] undecodable entry", zap.String("key", key), zap.String("url", url), zap.Error(err))
		return nil, false
	}
	if entry.URL != url {
		// digest collision, treat as miss
		c.metrics.RecordDistCache(EventMiss)
		return nil, false
	}

	c.metrics.RecordDistCache(EventHit)
	c.logger.Debug("[dist] get", zap.String("key", key), zap.String("url", url))
	return entry.Result(), true
}

// Set queues an asynchronous write. Non-2xx results are ignored.
// Returns ErrQueueFull or ErrClosed when the write was dropped.
func (c *Client) Set(url string, result *types.RenderResult) error {
	if result == nil || !result.IsCacheable() {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}

	select {
	case c.queue <- writeJob{key: c.Key(url), entry: NewEntry(url, result)}:
		c.metrics.SetDistWriteQueue(len(c.queue))
		return nil
	default:
		c.metrics.RecordDistCache(EventDropped)
		c.logger.Warn("[dist] write queue full, dropping entry", zap.String("url", url))
		return ErrQueueFull
	}
}

// Delete removes the entry for url. The local tier is not touched.
func (c *Client) Delete(ctx context.Context, url string) (bool, error) {
	key := c.Key(url)

	var deleted bool
	err := c.guard(func() error {
		opCtx, cancel := c.opContext(ctx)
		defer cancel()

		var err error
		deleted, err = c.store.Delete(opCtx, key)
		return err
	})
	if err != nil {
		c.logFailure("delete", key, url, err)
		return false, err
	}

	if deleted {
		c.metrics.RecordDistCache(EventDelete)
		c.logger.Info("[dist] clear", zap.String("key", key), zap.String("url", url))
	}
	return deleted, nil
}

// Close drains queued writes, stops the workers and closes the store
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
	return c.store.Close()
}

func (c *Client) writer() {
	defer c.wg.Done()

	for job := range c.queue {
		c.metrics.SetDistWriteQueue(len(c.queue))
		c.write(job)
	}
}

func (c *Client) write(job writeJob) {
	value, err := c.codec.Encode(job.entry)
	if err != nil {
		c.metrics.RecordDistCache(EventError)
		c.logger.Error("[dist] encode failed", zap.String("url", job.entry.URL), zap.Error(err))
		return
	}

	err = c.guard(func() error {
		ctx, cancel := c.opContext(context.Background())
		defer cancel()
		return c.store.Set(ctx, job.key, value, c.ttl)
	})
	if err != nil {
		c.logFailure("set", job.key, job.entry.URL, err)
		return
	}

	c.metrics.RecordDistCache(EventSet)
	c.logger.Debug("[dist] set", zap.String("key", job.key), zap.String("url", job.entry.URL), zap.Int("bytes", len(value)))
}

// guard runs op through the circuit breaker
func (c *Client) guard(op func() error) error {
	if !c.breaker.TryAcquirePermit() {
		return circuitbreaker.ErrOpen
	}

	if err := op(); err != nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return nil
}

func (c *Client) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.timeout)
}

func (c *Client) logFailure(op, key, url string, err error) {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.metrics.RecordDistCache(EventBreakerOpen)
		c.logger.Debug("[dist] skipped, circuit open", zap.String("op", op), zap.String("url", url))
		return
	}

	c.metrics.RecordDistCache(EventError)
	c.logger.Warn("[dist] "+op+" failed", zap.String("key", key), zap.String("url", url), zap.Error(err))
}
