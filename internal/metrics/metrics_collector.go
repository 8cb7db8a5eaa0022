package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Render outcomes
const (
	OutcomeSuccess = "success"
	OutcomeNon2xx  = "non_2xx"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeCrashed = "crashed"
)

// MetricsCollector centralizes metrics recording. A nil *MetricsCollector is valid and records nothing.
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector registers the collector on the default registry
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetrics(namespace, logger),
		logger:     logger,
	}
}

// NewMetricsCollectorWithRegistry registers the collector on registerer
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordHTTPRequest records a routed request and its final status
func (mc *MetricsCollector) RecordHTTPRequest(route string, status int) {
	if mc == nil {
		return
	}
	mc.prometheus.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RecordRender records a render outcome and its duration in seconds
func (mc *MetricsCollector) RecordRender(outcome string, seconds float64) {
	if mc == nil {
		return
	}
	mc.prometheus.rendersTotal.WithLabelValues(outcome).Inc()
	mc.prometheus.renderDuration.Observe(seconds)
}

// RenderStarted increments the in-flight gauge
func (mc *MetricsCollector) RenderStarted() {
	if mc == nil {
		return
	}
	mc.prometheus.rendersInFlight.Inc()
}

// RenderFinished decrements the in-flight gauge
func (mc *MetricsCollector) RenderFinished() {
	if mc == nil {
		return
	}
	mc.prometheus.rendersInFlight.Dec()
}

// SetRenderLimit publishes the effective concurrency limit
func (mc *MetricsCollector) SetRenderLimit(limit int) {
	if mc == nil {
		return
	}
	mc.prometheus.renderLimit.Set(float64(limit))
}

// RecordEngineEvent records launch, launch_error, crash or close
func (mc *MetricsCollector) RecordEngineEvent(event string) {
	if mc == nil {
		return
	}
	mc.prometheus.engineEvents.WithLabelValues(event).Inc()
}

// RecordLocalCache records hit, miss, coalesced, delete or eviction
func (mc *MetricsCollector) RecordLocalCache(event string) {
	if mc == nil {
		return
	}
	mc.prometheus.localCacheEvents.WithLabelValues(event).Inc()
}

// SetLocalCacheEntries publishes the local cache size
func (mc *MetricsCollector) SetLocalCacheEntries(n int) {
	if mc == nil {
		return
	}
	mc.prometheus.localCacheEntries.Set(float64(n))
}

// RecordDistCache records hit, miss, error, set, dropped, delete or breaker_open
func (mc *MetricsCollector) RecordDistCache(event string) {
	if mc == nil {
		return
	}
	mc.prometheus.distCacheEvents.WithLabelValues(event).Inc()
}

// SetDistWriteQueue publishes the pending distributed write count
func (mc *MetricsCollector) SetDistWriteQueue(depth int) {
	if mc == nil {
		return
	}
	mc.prometheus.distWriteQueue.Set(float64(depth))
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	if mc == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	mc.prometheus.ServeHTTP(ctx)
}
