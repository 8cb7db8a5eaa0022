package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/localcache"
	"github.com/edgecomet/rendeer/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRenderer struct {
	calls  atomic.Int32
	gate   chan struct{}
	result func(url string) (*types.RenderResult, error)
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (*types.RenderResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result(url)
}

func ok(html string) func(string) (*types.RenderResult, error) {
	return func(string) (*types.RenderResult, error) {
		return &types.RenderResult{HTML: html, StatusCode: 200}, nil
	}
}

type fakeDist struct {
	mu      sync.Mutex
	entries map[string]*types.RenderResult
	sets    int
}

func newFakeDist() *fakeDist {
	return &fakeDist{entries: map[string]*types.RenderResult{}}
}

func (d *fakeDist) Get(ctx context.Context, url string) (*types.RenderResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, found := d.entries[url]
	return r, found
}

func (d *fakeDist) Set(url string, result *types.RenderResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !result.IsCacheable() {
		return nil
	}
	d.sets++
	d.entries[url] = result
	return nil
}

func (d *fakeDist) Delete(ctx context.Context, url string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, found := d.entries[url]
	delete(d.entries, url)
	return found, nil
}

func newPipeline(t *testing.T, renderer Renderer, dist DistributedCache) *Pipeline {
	t.Helper()
	local, err := localcache.New(0, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(local.Wait)
	return New(local, renderer, dist, time.Minute, zap.NewNop())
}

func TestFetch_CoalescesConcurrentRequests(t *testing.T) {
	renderer := &fakeRenderer{gate: make(chan struct{}), result: ok("<p>once</p>")}
	p := newPipeline(t, renderer, nil)

	const n = 10
	var wg sync.WaitGroup
	results := make([]*types.RenderResult, n)
	sources := make([]Source, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, src, err := p.Fetch(context.Background(), "https://example.com/")
			assert.NoError(t, err)
			results[i], sources[i] = r, src
		}(i)
	}

	require.Eventually(t, func() bool { return renderer.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(renderer.gate)
	wg.Wait()

	assert.Equal(t, int32(1), renderer.calls.Load())
	renders := 0
	for i := 0; i < n; i++ {
		assert.Same(t, results[0], results[i])
		if sources[i] == SourceRender {
			renders++
		}
	}
	assert.Equal(t, 1, renders)
}

func TestFetch_LocalHitSkipsRenderer(t *testing.T) {
	renderer := &fakeRenderer{result: ok("<p>hi</p>")}
	p := newPipeline(t, renderer, nil)

	_, src, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SourceRender, src)

	result, src, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	assert.Equal(t, "<p>hi</p>", result.HTML)
	assert.Equal(t, int32(1), renderer.calls.Load())
}

func TestFetch_Non2xxIsNotCached(t *testing.T) {
	renderer := &fakeRenderer{result: func(string) (*types.RenderResult, error) {
		return &types.RenderResult{HTML: "down", StatusCode: 503}, nil
	}}
	dist := newFakeDist()
	p := newPipeline(t, renderer, dist)

	result, _, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, 503, result.StatusCode)

	require.Eventually(t, func() bool { return p.local.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, found := dist.Get(context.Background(), "https://example.com/")
	assert.False(t, found)

	_, src, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SourceRender, src)
	assert.Equal(t, int32(2), renderer.calls.Load())
}

func TestFetch_ErrorClearsLocalEntry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	renderer := &fakeRenderer{result: func(string) (*types.RenderResult, error) {
		if fail.Load() {
			return nil, errors.New("render timed out")
		}
		return &types.RenderResult{HTML: "ok", StatusCode: 200}, nil
	}}
	p := newPipeline(t, renderer, nil)

	_, _, err := p.Fetch(context.Background(), "https://example.com/")
	assert.EqualError(t, err, "render timed out")

	fail.Store(false)
	require.Eventually(t, func() bool { return p.local.Len() == 0 }, time.Second, 5*time.Millisecond)

	result, _, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.HTML)
}

func TestFetch_DistributedHitSkipsLocalAndRenderer(t *testing.T) {
	renderer := &fakeRenderer{result: ok("fresh")}
	dist := newFakeDist()
	dist.entries["https://example.com/"] = &types.RenderResult{HTML: "shared", StatusCode: 200, Headers: map[string]string{"X-A": "b"}}
	p := newPipeline(t, renderer, dist)

	result, src, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SourceDistributed, src)
	assert.Equal(t, "shared", result.HTML)
	assert.Equal(t, int32(0), renderer.calls.Load())
	assert.Equal(t, 0, p.local.Len())
}

func TestFetch_WritesBackToDistributed(t *testing.T) {
	renderer := &fakeRenderer{result: ok("fresh")}
	dist := newFakeDist()
	p := newPipeline(t, renderer, dist)

	_, _, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)

	got, found := dist.Get(context.Background(), "https://example.com/")
	require.True(t, found)
	assert.Equal(t, "fresh", got.HTML)

	// cleared from the shared tier, served locally and written back
	_, err = p.Clear(context.Background(), "https://example.com/")
	require.NoError(t, err)

	_, src, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	assert.Equal(t, 2, dist.sets)
}

func TestFetch_CallerCancellationDoesNotAbortRender(t *testing.T) {
	renderer := &fakeRenderer{gate: make(chan struct{}), result: ok("late")}
	p := newPipeline(t, renderer, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := p.Fetch(ctx, "https://example.com/")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(renderer.gate)
	result, _, err := p.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "late", result.HTML)
	assert.Equal(t, int32(1), renderer.calls.Load())
}

func TestClear(t *testing.T) {
	p := newPipeline(t, &fakeRenderer{result: ok("x")}, nil)
	assert.False(t, p.DistributedEnabled())

	_, err := p.Clear(context.Background(), "https://example.com/")
	assert.ErrorIs(t, err, ErrDistributedDisabled)

	dist := newFakeDist()
	dist.entries["https://example.com/"] = &types.RenderResult{HTML: "x", StatusCode: 200}
	p = newPipeline(t, &fakeRenderer{result: ok("x")}, dist)
	assert.True(t, p.DistributedEnabled())

	deleted, err := p.Clear(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = p.Clear(context.Background(), "https://example.com/")
	require.NoError(t, err)
	assert.False(t, deleted)
}
