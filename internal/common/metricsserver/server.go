package metricsserver

import (
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
)

// MetricsHandler is implemented by the metrics collector
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// StartMetricsServer binds the metrics listener and serves it in the background.
// Returns nil when metrics are disabled. Bind errors are returned synchronously.
func StartMetricsServer(cfg configtypes.MetricsConfig, metricsHandler MetricsHandler, logger *zap.Logger) (*fasthttp.Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s failed: %w", cfg.Listen, err)
	}

	metricsServer := &fasthttp.Server{
		Handler:            createMetricsHandler(cfg.Path, metricsHandler),
		Name:               "Rendeer-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		MaxRequestsPerConn: 1000,
		Concurrency:        100,
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", ln.Addr().String()),
			zap.String("path", cfg.Path))

		if err := metricsServer.Serve(ln); err != nil {
			logger.Error("Metrics server stopped", zap.String("listen", cfg.Listen), zap.Error(err))
		}
	}()

	return metricsServer, nil
}

func createMetricsHandler(metricsPath string, metricsCollector MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == metricsPath {
			metricsCollector.ServeHTTP(ctx)
			return
		}

		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetBodyString("Not Found")
	}
}
