package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/edgecomet/rendeer/internal/common/htmlprocessor"
	"github.com/edgecomet/rendeer/internal/filter"
	"github.com/edgecomet/rendeer/internal/metrics"
	"github.com/edgecomet/rendeer/pkg/types"
)

// Engine events reported to metrics
const (
	eventLaunch      = "launch"
	eventLaunchError = "launch_error"
	eventCrash       = "crash"
	eventClose       = "close"
)

// Renderer owns one lazily launched browser and renders pages in isolated tabs.
// A browser that fails is discarded and relaunched by the next render.
type Renderer struct {
	config   *Config
	launcher Launcher
	policy   *filter.Policy
	limiter  *semaphore.Weighted // nil when unbounded
	limit    int
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger

	mu         sync.Mutex
	state      EngineState
	browser    Browser
	generation uint64
	renders    sync.WaitGroup
}

// NewRenderer validates config and sizes the concurrency limiter. No browser is started.
func NewRenderer(config *Config, launcher Launcher, policy *filter.Policy, mc *metrics.MetricsCollector, logger *zap.Logger) (*Renderer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if launcher == nil || policy == nil {
		return nil, fmt.Errorf("launcher and policy are required")
	}

	r := &Renderer{
		config:   config,
		launcher: launcher,
		policy:   policy,
		limit:    config.CalculateConcurrency(),
		metrics:  mc,
		logger:   logger,
	}
	if r.limit > 0 {
		r.limiter = semaphore.NewWeighted(int64(r.limit))
	}
	mc.SetRenderLimit(r.limit)

	logger.Info("Renderer initialized",
		zap.Int("concurrency", r.limit),
		zap.Duration("page_timeout", config.PageTimeout),
		zap.Duration("render_timeout", config.RenderTimeout))

	return r, nil
}

// State returns the current engine state
func (r *Renderer) State() EngineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Generation counts browser launches
func (r *Renderer) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// Render loads pageURL, applies the filter policy to every request it issues, and
// returns the cleaned document with its status and header overrides.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*types.RenderResult, error) {
	r.mu.Lock()
	if r.state == EngineClosed {
		r.mu.Unlock()
		return nil, ErrEngineClosed
	}
	r.renders.Add(1)
	r.mu.Unlock()
	defer r.renders.Done()

	if r.limiter != nil {
		if err := r.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer r.limiter.Release(1)
	}

	start := time.Now()
	r.metrics.RenderStarted()
	defer r.metrics.RenderFinished()

	result, err := r.render(ctx, pageURL)
	r.metrics.RecordRender(outcome(result, err), time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("Render failed",
			zap.String("url", pageURL),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	r.logger.Debug("Render completed",
		zap.String("url", pageURL),
		zap.Int("status_code", result.StatusCode),
		zap.Int("html_size", len(result.HTML)),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func (r *Renderer) render(ctx context.Context, pageURL string) (*types.RenderResult, error) {
	b, gen, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}

	tab, err := b.NewTab(ctx)
	if err != nil {
		return nil, r.fail(gen, err)
	}
	defer func() {
		if err := tab.Close(); err != nil {
			r.logger.Debug("Failed to close tab", zap.String("url", pageURL), zap.Error(err))
		}
	}()

	if err := tab.Intercept(ctx, r.policy.Decide); err != nil {
		return nil, r.fail(gen, err)
	}

	r.logger.Info("Fetch", zap.String("url", pageURL))
	if err := tab.Navigate(ctx, pageURL, r.config.PageTimeout); err != nil {
		return nil, r.fail(gen, err)
	}

	location, err := tab.Location(ctx)
	if err != nil {
		return nil, r.fail(gen, err)
	}

	html, err := tab.Serialize(ctx, r.config.RenderTimeout)
	if err != nil {
		return nil, r.fail(gen, err)
	}

	if err := tab.ClearCookies(ctx); err != nil {
		r.logger.Debug("Failed to clear cookies", zap.String("url", pageURL), zap.Error(err))
	}

	result, err := htmlprocessor.Process([]byte(html), location)
	if err != nil {
		return nil, fmt.Errorf("failed to process rendered page: %w", err)
	}
	return result, nil
}

// acquire returns the live browser and its generation, launching one if needed
func (r *Renderer) acquire(ctx context.Context) (Browser, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case EngineClosed:
		return nil, 0, ErrEngineClosed
	case EngineReady:
		select {
		case <-r.browser.Done():
			r.logger.Warn("Browser exited, relaunching", zap.Uint64("generation", r.generation))
			r.metrics.RecordEngineEvent(eventCrash)
			r.closeBrowser(r.browser)
			r.browser = nil
			r.state = EngineUninitialized
		default:
			return r.browser, r.generation, nil
		}
	}

	r.logger.Info("Launch browser")
	b, err := r.launcher.Launch(ctx)
	if err != nil {
		r.metrics.RecordEngineEvent(eventLaunchError)
		return nil, 0, err
	}

	r.browser = b
	r.generation++
	r.state = EngineReady
	r.metrics.RecordEngineEvent(eventLaunch)

	r.logger.Info("Browser launched",
		zap.Uint64("generation", r.generation),
		zap.String("version", b.Version()))

	return b, r.generation, nil
}

// fail classifies err; engine failures discard the browser of generation gen
func (r *Renderer) fail(gen uint64, err error) error {
	if !isEngineFailure(err) {
		return err
	}

	r.discard(gen, err)
	if errors.Is(err, ErrEngineCrashed) {
		return err
	}
	return errors.Join(ErrEngineCrashed, err)
}

// discard tears down the browser only if it is still generation gen
func (r *Renderer) discard(gen uint64, cause error) {
	r.mu.Lock()
	if r.state != EngineReady || r.generation != gen {
		r.mu.Unlock()
		return
	}
	b := r.browser
	r.browser = nil
	r.state = EngineUninitialized
	r.mu.Unlock()

	r.metrics.RecordEngineEvent(eventCrash)
	r.logger.Error("Browser engine failed, discarding",
		zap.Uint64("generation", gen),
		zap.Error(cause))

	r.closeBrowser(b)
}

func (r *Renderer) closeBrowser(b Browser) {
	if err := b.Close(); err != nil {
		r.logger.Warn("Chrome could not be killed", zap.Error(err))
	}
}

// Close rejects new renders, waits for in-flight ones up to the shutdown timeout
// and closes the browser
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.state == EngineClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = EngineClosed
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.renders.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.config.ShutdownTimeout):
		r.logger.Warn("Timeout waiting for in-flight renders", zap.Duration("timeout", r.config.ShutdownTimeout))
	}

	r.mu.Lock()
	b := r.browser
	r.browser = nil
	r.mu.Unlock()

	if b == nil {
		return nil
	}

	r.metrics.RecordEngineEvent(eventClose)
	r.logger.Info("Closing browser")
	return b.Close()
}

func outcome(result *types.RenderResult, err error) string {
	switch {
	case errors.Is(err, ErrRenderTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrEngineCrashed):
		return metrics.OutcomeCrashed
	case err != nil:
		return metrics.OutcomeError
	case !result.IsCacheable():
		return metrics.OutcomeNon2xx
	default:
		return metrics.OutcomeSuccess
	}
}
