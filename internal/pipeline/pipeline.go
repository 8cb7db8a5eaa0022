// Package pipeline resolves a target URL to rendered HTML through the cache tiers.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/localcache"
	"github.com/edgecomet/rendeer/pkg/types"
)

// ErrDistributedDisabled is returned by Clear when no distributed tier is configured
var ErrDistributedDisabled = errors.New("distributed cache is disabled")

// Source tells where a result came from
type Source string

const (
	SourceDistributed Source = "distributed"
	SourceLocal       Source = "local"
	SourceRender      Source = "render"
)

// Renderer produces a fresh render of a normalized URL
type Renderer interface {
	Render(ctx context.Context, url string) (*types.RenderResult, error)
}

// DistributedCache is the optional shared tier. Implementations degrade errors to misses.
type DistributedCache interface {
	Get(ctx context.Context, url string) (*types.RenderResult, bool)
	Set(url string, result *types.RenderResult) error
	Delete(ctx context.Context, url string) (bool, error)
}

// Pipeline orchestrates distributed tier, local coalescing tier and renderer
type Pipeline struct {
	local    *localcache.Cache
	renderer Renderer
	dist     DistributedCache

	// renderBudget bounds renders, which run detached from the requesting client
	renderBudget time.Duration
	logger       *zap.Logger
}

// New builds a pipeline. dist may be nil for local-only operation.
func New(local *localcache.Cache, renderer Renderer, dist DistributedCache, renderBudget time.Duration, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		local:        local,
		renderer:     renderer,
		dist:         dist,
		renderBudget: renderBudget,
		logger:       logger,
	}
}

// DistributedEnabled reports whether a shared tier is configured
func (p *Pipeline) DistributedEnabled() bool {
	return p.dist != nil
}

// Fetch returns the result for a normalized URL. Concurrent callers for one URL share
// a single render; ctx only bounds how long this caller waits for it.
func (p *Pipeline) Fetch(ctx context.Context, url string) (*types.RenderResult, Source, error) {
	if p.dist != nil {
		if result, ok := p.dist.Get(ctx, url); ok {
			return result, SourceDistributed, nil
		}
	}

	pending, created := p.local.GetOrCreate(url, func() (*types.RenderResult, error) {
		renderCtx, cancel := p.renderContext()
		defer cancel()
		return p.renderer.Render(renderCtx, url)
	})

	source := SourceLocal
	if created {
		source = SourceRender
	}

	result, err := pending.Wait(ctx)
	if err != nil {
		return nil, source, err
	}

	// refill the shared tier; it missed above
	if p.dist != nil && result.IsCacheable() {
		if err := p.dist.Set(url, result); err != nil {
			p.logger.Debug("Distributed cache write skipped", zap.String("url", url), zap.Error(err))
		}
	}

	return result, source, nil
}

// Clear removes url from the distributed tier only
func (p *Pipeline) Clear(ctx context.Context, url string) (bool, error) {
	if p.dist == nil {
		return false, ErrDistributedDisabled
	}
	return p.dist.Delete(ctx, url)
}

func (p *Pipeline) renderContext() (context.Context, context.CancelFunc) {
	if p.renderBudget <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), p.renderBudget)
}
