package chrome

import (
	"context"
	"time"

	"github.com/edgecomet/rendeer/internal/filter"
)

// EngineState is the lifecycle state of the shared browser
type EngineState int32

const (
	// EngineUninitialized means no browser is running; the next render launches one
	EngineUninitialized EngineState = iota
	// EngineReady means a browser is running and accepting tabs
	EngineReady
	// EngineClosed means the renderer was shut down and rejects renders
	EngineClosed
)

// String returns the string representation of EngineState
func (s EngineState) String() string {
	switch s {
	case EngineUninitialized:
		return "uninitialized"
	case EngineReady:
		return "ready"
	case EngineClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InterceptFunc decides the fate of every request a tab issues
type InterceptFunc func(filter.Request) filter.Decision

// Launcher starts browser processes
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running engine process
type Browser interface {
	// NewTab opens an isolated browsing context
	NewTab(ctx context.Context) (Tab, error)
	// Done is closed when the browser process or its connection goes away
	Done() <-chan struct{}
	Version() string
	Close() error
}

// Tab is a single page. Methods are not safe for concurrent use.
type Tab interface {
	// Intercept routes every request issued by the page through fn. Must precede Navigate.
	Intercept(ctx context.Context, fn InterceptFunc) error
	// Navigate loads url and waits until the network is idle or timeout elapses
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Location returns the document URL after redirects
	Location(ctx context.Context) (string, error)
	// Serialize returns the current document HTML
	Serialize(ctx context.Context, timeout time.Duration) (string, error)
	ClearCookies(ctx context.Context) error
	Close() error
}
