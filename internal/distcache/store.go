package distcache

import (
	"context"
	"time"

	"github.com/edgecomet/rendeer/pkg/types"
)

// Entry is the stored form of a render
type Entry struct {
	URL        string            `json:"url"`
	HTML       string            `json:"content"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// NewEntry snapshots a result for url
func NewEntry(url string, result *types.RenderResult) *Entry {
	return &Entry{
		URL:        url,
		HTML:       result.HTML,
		StatusCode: result.EffectiveStatus(),
		Headers:    result.Headers,
	}
}

// Result converts the entry back into a render result
func (e *Entry) Result() *types.RenderResult {
	return &types.RenderResult{
		HTML:       e.HTML,
		StatusCode: e.StatusCode,
		Headers:    e.Headers,
	}
}

// Store is a shared key/value backend. A missing key is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Close() error
}
