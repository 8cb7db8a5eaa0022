package server

import (
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/httputil"
)

const (
	clearPrefix       = "/clear/"
	fetchArg          = "fetch"
	errorPrefix       = "Oops. Something is wrong."
	missingURLMessage = errorPrefix + " Missing URL."
)

// route names the handler chosen for a request; also the metrics label
type route string

const (
	routeAppEngine route = "appengine"
	routeRoot      route = "root"
	routeStatic    route = "static"
	routeClear     route = "clear"
	routeRender    route = "render"
)

// classify picks the route for a raw request URI. /clear/ is a render target
// when no distributed cache is configured.
func classify(uri string, distributed bool) route {
	switch {
	case strings.HasPrefix(uri, "/_ah"):
		return routeAppEngine
	case uri == "/":
		return routeRoot
	case uri == "/favicon.ico" || uri == "/robots.txt":
		return routeStatic
	case distributed && strings.HasPrefix(uri, clearPrefix):
		return routeClear
	default:
		return routeRender
	}
}

// renderTarget extracts the raw target: the fetch query argument on "/",
// otherwise everything after the leading slash
func renderTarget(ctx *fasthttp.RequestCtx, uri string) string {
	path, _, _ := strings.Cut(uri, "?")
	if path == "/" {
		return string(ctx.QueryArgs().Peek(fetchArg))
	}
	return strings.TrimPrefix(uri, "/")
}

// handleRequestError writes the diagnostic body; every processing error is a 400
func (s *Server) handleRequestError(ctx *fasthttp.RequestCtx, logger *zap.Logger, err error) {
	logger.Error("Crashed page", zap.Error(err))
	httputil.Text(ctx, fasthttp.StatusBadRequest, errorPrefix+"\n\n"+err.Error())
}
