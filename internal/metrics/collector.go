package metrics

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/BaSui01/guardproxy/policy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	namespace string

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 安全评估指标
	assessmentsTotal   *prometheus.CounterVec
	assessmentDuration *prometheus.HistogramVec
	decisionsTotal     *prometheus.CounterVec
	breakerState       prometheus.Gauge

	// 流式中继指标
	streamChunksTotal   prometheus.Counter
	streamOutcomesTotal *prometheus.CounterVec

	// 后端指标
	backendRequestsTotal   *prometheus.CounterVec
	backendRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds, including streamed bodies",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 安全评估指标
	c.assessmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "assessments_total",
			Help:      "Total number of policy service assessments by outcome",
		},
		[]string{"role", "outcome"},
	)

	c.assessmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "assessment_duration_seconds",
			Help:      "Policy service assessment latency in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"role"},
	)

	c.decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "decisions_total",
			Help:      "Total number of verdict decisions",
		},
		[]string{"role", "category", "action", "allowed"},
	)

	c.breakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "breaker_state",
			Help:      "Policy service circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	// 流式中继指标
	c.streamChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "chunks_released_total",
			Help:      "Total number of stream units released to clients",
		},
	)

	c.streamOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "streams_total",
			Help:      "Total number of moderated streams by terminal outcome",
		},
		[]string{"outcome"},
	)

	// 后端指标
	c.backendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of backend requests",
		},
		[]string{"path", "status"},
	)

	c.backendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Backend latency until response headers, in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"path"},
	)

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🛡️ 安全评估指标记录
// =============================================================================

// RecordAssessment implements policy.AssessmentRecorder.
func (c *Collector) RecordAssessment(role, outcome string, duration time.Duration) {
	c.assessmentsTotal.WithLabelValues(role, outcome).Inc()
	c.assessmentDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// ObserveDecision implements policy.Observer.
func (c *Collector) ObserveDecision(_ context.Context, f policy.Fragment, v policy.Verdict, d policy.Decision) {
	c.decisionsTotal.WithLabelValues(string(f.Role), v.Category, string(v.Action), strconv.FormatBool(d.Allowed)).Inc()
}

// RecordBreakerState 记录熔断器状态
func (c *Collector) RecordBreakerState(state int) {
	c.breakerState.Set(float64(state))
}

// =============================================================================
// 🌊 流式中继指标记录
// =============================================================================

// RecordStreamChunk implements relay.Recorder.
func (c *Collector) RecordStreamChunk() {
	c.streamChunksTotal.Inc()
}

// RecordStreamOutcome implements relay.Recorder.
func (c *Collector) RecordStreamOutcome(outcome string) {
	c.streamOutcomesTotal.WithLabelValues(outcome).Inc()
}

// =============================================================================
// 🔌 后端指标记录
// =============================================================================

// RecordBackendRequest implements ollama.Recorder. status 为 0 表示连接失败。
func (c *Collector) RecordBackendRequest(path string, status int, duration time.Duration) {
	c.backendRequestsTotal.WithLabelValues(path, statusCode(status)).Inc()
	c.backendRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存与数据库
// =============================================================================

// RegisterCacheStats 以 CounterFunc 暴露 Verdict 缓存命中统计
func (c *Collector) RegisterCacheStats(stats func() (hits, misses uint64)) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total number of verdict cache hits",
	}, func() float64 {
		hits, _ := stats()
		return float64(hits)
	})
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total number of verdict cache misses",
	}, func() float64 {
		_, misses := stats()
		return float64(misses)
	})
}

// RegisterDBStats 以 GaugeFunc 暴露审计数据库连接池状态
func (c *Collector) RegisterDBStats(database string, stats func() sql.DBStats) {
	labels := prometheus.Labels{"database": database}
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Subsystem:   "db",
		Name:        "connections_open",
		Help:        "Number of open audit database connections",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().OpenConnections) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.namespace,
		Subsystem:   "db",
		Name:        "connections_idle",
		Help:        "Number of idle audit database connections",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Idle) })
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
