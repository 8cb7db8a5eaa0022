// Package chrometest provides an in-memory engine for exercising chrome.Renderer
// and its callers without a browser.
package chrometest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgecomet/rendeer/internal/filter"
	"github.com/edgecomet/rendeer/internal/render/chrome"
)

// Page is the scripted behavior for one URL
type Page struct {
	HTML     string
	Location string // defaults to the navigated URL

	// Requests are replayed through the tab's intercept function during navigation
	Requests []filter.Request

	NavigateErr  error
	SerializeErr error

	// Gate, when set, holds navigation until closed
	Gate chan struct{}
	// Delay is added to navigation
	Delay time.Duration
}

// Launcher is a chrome.Launcher serving scripted pages
type Launcher struct {
	mu          sync.Mutex
	pages       map[string]Page
	launchErr   error
	launches    int
	current     *Browser
	navigations map[string]int
	decisions   []filter.Decision
	openTabs    int
}

// NewLauncher returns a launcher with no pages
func NewLauncher() *Launcher {
	return &Launcher{
		pages:       make(map[string]Page),
		navigations: make(map[string]int),
	}
}

// SetPage scripts url
func (l *Launcher) SetPage(url string, page Page) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pages[url] = page
}

// FailLaunch makes subsequent launches fail with err; nil restores them
func (l *Launcher) FailLaunch(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launchErr = err
}

func (l *Launcher) Launch(ctx context.Context) (chrome.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.launches++
	l.current = &Browser{launcher: l, done: make(chan struct{})}
	return l.current, nil
}

// Launches counts successful launches
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Navigations counts navigations to url
func (l *Launcher) Navigations(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.navigations[url]
}

// Decisions returns every intercept decision taken so far
func (l *Launcher) Decisions() []filter.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]filter.Decision(nil), l.decisions...)
}

// OpenTabs counts tabs not yet closed
func (l *Launcher) OpenTabs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openTabs
}

// Current returns the most recently launched browser
func (l *Launcher) Current() *Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Browser is a fake engine process
type Browser struct {
	launcher *Launcher
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	closed bool
}

// Crash simulates the process dying underneath its users
func (b *Browser) Crash() {
	b.once.Do(func() { close(b.done) })
}

// Closed reports whether Close was called
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) NewTab(ctx context.Context) (chrome.Tab, error) {
	select {
	case <-b.done:
		return nil, fmt.Errorf("%w: websocket not opened", chrome.ErrEngineCrashed)
	default:
	}

	b.launcher.mu.Lock()
	b.launcher.openTabs++
	b.launcher.mu.Unlock()

	return &Tab{browser: b}, nil
}

func (b *Browser) Done() <-chan struct{} {
	return b.done
}

func (b *Browser) Version() string {
	return "HeadlessChrome/fake"
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Crash()
	return nil
}

// Tab is a fake page
type Tab struct {
	browser   *Browser
	intercept chrome.InterceptFunc
	page      Page
	url       string
	closed    bool
}

func (t *Tab) Intercept(ctx context.Context, fn chrome.InterceptFunc) error {
	t.intercept = fn
	return nil
}

func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	l := t.browser.launcher

	l.mu.Lock()
	l.navigations[url]++
	page, ok := l.pages[url]
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: net::ERR_NAME_NOT_RESOLVED", chrome.ErrNavigateFailed)
	}
	t.page = page
	t.url = url

	if t.intercept != nil {
		// the document request itself goes through the policy first
		document := t.intercept(filter.Request{URL: url, Method: "GET", ResourceType: "Document"})
		l.record(document)
		if document.Action == filter.ActionBlock {
			return fmt.Errorf("%w: net::ERR_FAILED", chrome.ErrNavigateFailed)
		}
		for _, req := range page.Requests {
			l.record(t.intercept(req))
		}
	}

	if page.Gate != nil {
		select {
		case <-page.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if page.Delay > 0 {
		select {
		case <-time.After(page.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-t.browser.done:
		return fmt.Errorf("%w: websocket not opened", chrome.ErrEngineCrashed)
	default:
	}

	return page.NavigateErr
}

func (t *Tab) Location(ctx context.Context) (string, error) {
	if t.page.Location != "" {
		return t.page.Location, nil
	}
	return t.url, nil
}

func (t *Tab) Serialize(ctx context.Context, timeout time.Duration) (string, error) {
	if t.page.SerializeErr != nil {
		return "", t.page.SerializeErr
	}
	return t.page.HTML, nil
}

func (t *Tab) ClearCookies(ctx context.Context) error {
	return nil
}

func (t *Tab) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	l := t.browser.launcher
	l.mu.Lock()
	l.openTabs--
	l.mu.Unlock()
	return nil
}

func (l *Launcher) record(d filter.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
}
