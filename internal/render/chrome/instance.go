package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// chromedpLauncher starts a local headless Chrome through chromedp's exec allocator
type chromedpLauncher struct {
	config *Config
	logger *zap.Logger
}

// NewLauncher returns a Launcher for a local Chrome binary
func NewLauncher(config *Config, logger *zap.Logger) Launcher {
	return &chromedpLauncher{config: config, logger: logger}
}

func (l *chromedpLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	)

	if l.config.NoSandbox {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}

	for _, arg := range l.config.ExtraArgs {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	return opts
}

// Launch starts the browser process and connects to it
func (l *chromedpLauncher) Launch(ctx context.Context) (Browser, error) {
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// chromedp.Run on a fresh context starts the process; honour the caller's deadline while it does
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocatorCancel()
		return nil, errors.Join(ErrLaunchFailed, err)
	}

	b := &chromedpBrowser{
		ctx:             browserCtx,
		cancel:          browserCancel,
		allocatorCancel: allocatorCancel,
		logger:          l.logger,
	}

	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		b.version = product
		return nil
	})); err != nil {
		l.logger.Warn("Failed to capture browser version", zap.Error(err))
	}

	return b, nil
}

type chromedpBrowser struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocatorCancel context.CancelFunc
	version         string
	logger          *zap.Logger
	closeOnce       sync.Once
}

func (b *chromedpBrowser) NewTab(ctx context.Context) (Tab, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineCrashed, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	return &chromedpTab{ctx: tabCtx, cancel: tabCancel, logger: b.logger}, nil
}

func (b *chromedpBrowser) Done() <-chan struct{} {
	return b.ctx.Done()
}

func (b *chromedpBrowser) Version() string {
	return b.version
}

// Close tries a graceful browser shutdown, then kills the process
func (b *chromedpBrowser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.ctx.Err() == nil {
			ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
			err = chromedp.Cancel(ctx)
			cancel()
		}
		b.cancel()
		b.allocatorCancel()
	})
	return err
}

type chromedpTab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	interceptor *interceptor
}

// run executes actions on the tab while ctx is alive
func (t *chromedpTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (t *chromedpTab) Intercept(ctx context.Context, fn InterceptFunc) error {
	t.interceptor = newInterceptor(fn, t.logger)
	chromedp.ListenTarget(t.ctx, t.interceptor.handle(t.ctx))
	return t.run(ctx, t.interceptor.enable())
}

// Navigate waits for the networkIdle lifecycle event of the navigation it started
func (t *chromedpTab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return t.run(ctx,
		enableLifeCycle(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			idle := make(chan struct{})
			var (
				mu     sync.Mutex
				once   sync.Once
				target string
				seen   = make(map[string]bool)
			)

			listenerCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			// networkIdle can race the Navigate reply, so remember every idle loader
			chromedp.ListenTarget(listenerCtx, func(ev interface{}) {
				e, ok := ev.(*page.EventLifecycleEvent)
				if !ok || string(e.Name) != "networkIdle" {
					return
				}
				key := string(e.FrameID) + "/" + string(e.LoaderID)

				mu.Lock()
				seen[key] = true
				match := key == target
				mu.Unlock()

				if match {
					once.Do(func() { close(idle) })
				}
			})

			frameID, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return errors.Join(ErrNavigateFailed, err)
			}
			if errorText != "" {
				return fmt.Errorf("%w: %s", ErrNavigateFailed, errorText)
			}

			mu.Lock()
			target = string(frameID) + "/" + string(loaderID)
			if seen[target] {
				once.Do(func() { close(idle) })
			}
			mu.Unlock()

			timer := time.NewTimer(timeout)
			defer timer.Stop()

			select {
			case <-idle:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return fmt.Errorf("%w: network idle not reached within %s", ErrNavigateFailed, timeout)
			}
		}),
	)
}

func (t *chromedpTab) Location(ctx context.Context) (string, error) {
	var location string
	if err := t.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Serialize extracts the document HTML with retry logic
func (t *chromedpTab) Serialize(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output string
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var lastErr error

		for attempt := 0; attempt < 3; attempt++ {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err == nil {
				output, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
				if err == nil {
					return nil
				}
			}
			lastErr = err

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(300 * time.Millisecond):
			}
		}

		return fmt.Errorf("%w after 3 attempts: %v", ErrExtractHTML, lastErr)
	}))

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrRenderTimeout, timeout)
	}
	if err != nil {
		return "", err
	}
	return output, nil
}

func (t *chromedpTab) ClearCookies(ctx context.Context) error {
	return t.run(ctx, network.ClearBrowserCookies())
}

// Close waits for pending interception handlers, then closes the page
func (t *chromedpTab) Close() error {
	if t.interceptor != nil {
		if !t.interceptor.wait(5 * time.Second) {
			t.logger.Warn("Timeout waiting for request handlers to complete")
		}
		t.interceptor.logSummary()
	}

	ctx, cancel := context.WithTimeout(t.ctx, 2*time.Second)
	err := chromedp.Run(ctx, page.Close())
	cancel()

	t.cancel()
	return err
}

// enableLifeCycle enables page lifecycle events
func enableLifeCycle() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return err
		}
		return page.SetLifecycleEventsEnabled(true).Do(ctx)
	}
}
