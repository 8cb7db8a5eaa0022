package chrome

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/filter"
)

// interceptor answers paused fetch requests with filter decisions
type interceptor struct {
	decide InterceptFunc
	logger *zap.Logger

	handlers sync.WaitGroup

	allowed     atomic.Int64
	blocked     atomic.Int64
	substituted atomic.Int64
}

func newInterceptor(decide InterceptFunc, logger *zap.Logger) *interceptor {
	return &interceptor{decide: decide, logger: logger}
}

// enable turns on request interception for every request of the page
func (i *interceptor) enable() chromedp.Tasks {
	return chromedp.Tasks{
		network.Enable(),
		fetch.Enable(),
	}
}

// handle returns the target listener. Each paused request is answered in its own
// goroutine so the event loop is never blocked on a CDP round trip.
func (i *interceptor) handle(tabCtx context.Context) func(ev interface{}) {
	return func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}

		i.handlers.Add(1)
		go func() {
			defer i.handlers.Done()

			cmdCtx, cancel := context.WithTimeout(tabCtx, 2*time.Second)
			defer cancel()

			c := chromedp.FromContext(cmdCtx)
			if c == nil || c.Target == nil {
				return
			}
			executor := cdp.WithExecutor(cmdCtx, c.Target)

			decision := i.decide(filter.Request{
				URL:          paused.Request.URL,
				Method:       paused.Request.Method,
				ResourceType: string(paused.ResourceType),
			})

			if err := i.apply(executor, paused.RequestID, decision); err != nil {
				i.logger.Debug("Failed to answer paused request, failing instead",
					zap.String("url", paused.Request.URL),
					zap.Stringer("action", decision.Action),
					zap.Error(err))
				// a paused request left unanswered hangs the page
				_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonAborted).Do(executor)
			}
		}()
	}
}

func (i *interceptor) apply(ctx context.Context, id fetch.RequestID, decision filter.Decision) error {
	switch decision.Action {
	case filter.ActionBlock:
		i.blocked.Add(1)
		return fetch.FailRequest(id, network.ErrorReasonAborted).Do(ctx)

	case filter.ActionSubstitute:
		contentType, body, ok := splitDataURL(decision.Payload)
		if !ok {
			i.blocked.Add(1)
			return fetch.FailRequest(id, network.ErrorReasonAborted).Do(ctx)
		}
		i.substituted.Add(1)
		return fetch.FulfillRequest(id, 200).
			WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Content-Type", Value: contentType}}).
			WithBody(body).
			Do(ctx)

	default:
		i.allowed.Add(1)
		return fetch.ContinueRequest(id).Do(ctx)
	}
}

// wait blocks until every handler finished or timeout elapsed
func (i *interceptor) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		i.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (i *interceptor) logSummary() {
	i.logger.Debug("Request interception summary",
		zap.Int64("allowed", i.allowed.Load()),
		zap.Int64("blocked", i.blocked.Load()),
		zap.Int64("substituted", i.substituted.Load()))
}

// splitDataURL splits a base64 data URL into its media type and base64 body
func splitDataURL(payload string) (contentType, body string, ok bool) {
	rest, found := strings.CutPrefix(payload, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	contentType, found = strings.CutSuffix(meta, ";base64")
	if !found || contentType == "" {
		return "", "", false
	}
	return contentType, data, true
}
