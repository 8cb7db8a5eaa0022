package chrome

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/chromedp/chromedp"
)

// Render errors - returned during page rendering
var (
	ErrRenderTimeout  = errors.New("render timed out")
	ErrNavigateFailed = errors.New("navigation failed")
	ErrExtractHTML    = errors.New("HTML extraction failed")
)

// Engine errors - returned when the browser itself is unusable
var (
	ErrEngineCrashed = errors.New("browser engine crashed")
	ErrLaunchFailed  = errors.New("browser launch failed")
	ErrEngineClosed  = errors.New("renderer is shut down")
)

// connectionLost are fragments of transport errors seen when the browser process dies
var connectionLost = []string{
	"not opened",
	"websocket",
	"broken pipe",
	"connection reset",
	"connection refused",
	"target closed",
	"session closed",
	"browser has disconnected",
}

// isEngineFailure reports whether err means the engine connection is gone
// rather than the page misbehaving
func isEngineFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEngineCrashed) ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRenderTimeout) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range connectionLost {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
