package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics holds the Prometheus instruments
type PrometheusMetrics struct {
	// HTTP metrics
	httpRequests *prometheus.CounterVec

	// Render metrics
	rendersTotal    *prometheus.CounterVec
	renderDuration  prometheus.Histogram
	rendersInFlight prometheus.Gauge
	renderLimit     prometheus.Gauge

	// Engine metrics
	engineEvents *prometheus.CounterVec

	// Cache metrics
	localCacheEvents  *prometheus.CounterVec
	localCacheEntries prometheus.Gauge
	distCacheEvents   *prometheus.CounterVec
	distWriteQueue    prometheus.Gauge

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers on the default registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers on a custom registry
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by route and status",
	}, []string{"route", "status"})

	pm.rendersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "total",
		Help:      "Total renders by outcome",
	}, []string{"outcome"}) // outcome: success, non_2xx, error, timeout, crashed

	pm.renderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Time spent rendering pages",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
	})

	pm.rendersInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "in_flight",
		Help:      "Renders currently running in the browser",
	})

	pm.renderLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "concurrency_limit",
		Help:      "Configured render concurrency limit (0 = unbounded)",
	})

	pm.engineEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Browser engine lifecycle events",
	}, []string{"event"}) // event: launch, launch_error, crash, close

	pm.localCacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "local_cache",
		Name:      "events_total",
		Help:      "Local coalescing cache events",
	}, []string{"event"}) // event: hit, miss, coalesced, delete, eviction

	pm.localCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "local_cache",
		Name:      "entries",
		Help:      "Entries resident in the local cache, in flight included",
	})

	pm.distCacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dist_cache",
		Name:      "events_total",
		Help:      "Distributed cache events",
	}, []string{"event"}) // event: hit, miss, error, set, dropped, delete, breaker_open

	pm.distWriteQueue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dist_cache",
		Name:      "write_queue_depth",
		Help:      "Distributed cache writes waiting for a worker",
	})

	registerer.MustRegister(
		pm.httpRequests,
		pm.rendersTotal,
		pm.renderDuration,
		pm.rendersInFlight,
		pm.renderLimit,
		pm.engineEvents,
		pm.localCacheEvents,
		pm.localCacheEntries,
		pm.distCacheEvents,
		pm.distWriteQueue,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Info("Prometheus metrics initialized", zap.String("namespace", namespace))
	return pm
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}
