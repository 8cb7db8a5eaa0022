package server

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/httputil"
	"github.com/edgecomet/rendeer/internal/common/requestid"
	"github.com/edgecomet/rendeer/internal/common/urlutil"
	"github.com/edgecomet/rendeer/internal/metrics"
	"github.com/edgecomet/rendeer/internal/pipeline"
	"github.com/edgecomet/rendeer/pkg/types"
)

// Pipeline resolves targets to rendered pages
type Pipeline interface {
	Fetch(ctx context.Context, url string) (*types.RenderResult, pipeline.Source, error)
	Clear(ctx context.Context, url string) (bool, error)
	DistributedEnabled() bool
}

// Options are the router settings taken from configuration
type Options struct {
	CacheControlMaxAge time.Duration
	RequestTimeout     time.Duration
	SSRFProtection     bool
}

type Server struct {
	pipeline       Pipeline
	cacheControl   string
	requestTimeout time.Duration
	ssrfProtection bool

	metricsCollector *metrics.MetricsCollector
	logger           *zap.Logger
}

func NewServer(p Pipeline, opts Options, metricsCollector *metrics.MetricsCollector, logger *zap.Logger) *Server {
	return &Server{
		pipeline:         p,
		cacheControl:     httputil.CacheControl(int64(opts.CacheControlMaxAge / time.Second)),
		requestTimeout:   opts.RequestTimeout,
		ssrfProtection:   opts.SSRFProtection,
		metricsCollector: metricsCollector,
		logger:           logger,
	}
}

// HandleRequest routes on the raw request URI; targets embedded in the path keep their "//"
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.FromRequest(ctx)
	logger := s.logger.With(zap.String("request_id", requestID))

	uri := string(ctx.Request.Header.RequestURI())
	route := classify(uri, s.pipeline.DistributedEnabled())

	switch route {
	case routeAppEngine:
		httputil.Empty(ctx, fasthttp.StatusOK)
	case routeRoot:
		s.handleRoot(ctx)
	case routeStatic:
		httputil.Empty(ctx, fasthttp.StatusNoContent)
	case routeClear:
		s.handleClear(ctx, strings.TrimPrefix(uri, clearPrefix), logger)
	default:
		s.handleRender(ctx, renderTarget(ctx, uri), logger)
	}

	s.metricsCollector.RecordHTTPRequest(string(route), ctx.Response.StatusCode())
}

func (s *Server) handleRoot(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType(httputil.ContentTypeRootHTML)
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, s.cacheControl)
}

// handleClear always answers 200; the outcome is only logged
func (s *Server) handleClear(ctx *fasthttp.RequestCtx, raw string, logger *zap.Logger) {
	defer httputil.Empty(ctx, fasthttp.StatusOK)

	if raw == "" {
		return
	}

	target, err := urlutil.NormalizeTarget(raw)
	if err != nil {
		logger.Warn("Invalid clear target", zap.String("raw", raw), zap.Error(err))
		return
	}

	reqCtx, cancel := s.requestContext()
	defer cancel()

	deleted, err := s.pipeline.Clear(reqCtx, target)
	if err != nil {
		logger.Warn("Clear failed", zap.String("url", target), zap.Error(err))
		return
	}
	if deleted {
		logger.Info("Cleared distributed cache entry", zap.String("url", target))
	}
}

func (s *Server) handleRender(ctx *fasthttp.RequestCtx, raw string, logger *zap.Logger) {
	start := time.Now()

	if raw == "" {
		httputil.Text(ctx, fasthttp.StatusBadRequest, missingURLMessage)
		return
	}

	target, err := urlutil.NormalizeTarget(raw)
	if err != nil {
		s.handleRequestError(ctx, logger.With(zap.String("raw", raw)), err)
		return
	}
	logger = logger.With(zap.String("url", target))

	if s.ssrfProtection {
		if err := urlutil.CheckTarget(target); err != nil {
			s.handleRequestError(ctx, logger, err)
			return
		}
	}

	reqCtx, cancel := s.requestContext()
	defer cancel()

	result, source, err := s.pipeline.Fetch(reqCtx, target)
	if err != nil {
		s.handleRequestError(ctx, logger, err)
		return
	}

	status := result.EffectiveStatus()
	httputil.HTML(ctx, status, result.HTML, s.cacheControl, result.Headers)

	logger.Info("Served",
		zap.String("source", string(source)),
		zap.Int("status_code", status),
		zap.Int("size", len(result.HTML)),
		zap.Duration("duration", time.Since(start)))
}

// requestContext bounds how long a client waits; renders outlive it
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), s.requestTimeout)
}
