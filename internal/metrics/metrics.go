// Package metrics declares the Prometheus series exposed at GET /metrics.
// Grounded on the teacher's internal/metrics/metrics.go; tenant_id labels
// are replaced with provider/model/status (this gateway has no tenants),
// and series are added for the rate limiter, circuit breaker, recorder
// queue, and session store — the components the teacher's metrics package
// never had.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_invocations_total",
			Help: "Total number of invocations processed, by provider/model/status",
		},
		[]string{"provider", "model", "status"},
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_invocation_duration_seconds",
			Help:    "Invocation duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cost_usd_total",
			Help: "Total cost in USD",
		},
		[]string{"provider", "model"},
	)

	CatalogCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_catalog_cache_hits_total",
			Help: "Total number of catalog snapshot cache hits",
		},
		[]string{},
	)

	CatalogCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_catalog_cache_misses_total",
			Help: "Total number of catalog snapshot cache misses",
		},
		[]string{},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total number of rate limit rejections, by model",
		},
		[]string{"provider", "model"},
	)

	RecorderQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_recorder_queue_depth",
			Help: "Current number of buffered invocation records awaiting write",
		},
	)

	RecorderDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_recorder_dropped_total",
			Help: "Total number of invocation records dropped due to a full recorder queue",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Number of active (non-expired, non-revoked) sessions",
		},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_budget_usage_ratio",
			Help: "Current budget usage ratio (0-1), informational only",
		},
		[]string{"provider", "model"},
	)
)

func RecordInvocation(provider, model, status string, durationSec float64) {
	InvocationsTotal.WithLabelValues(provider, model, status).Inc()
	InvocationDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(provider, model).Add(costUSD)
}

func RecordCatalogCacheHit() {
	CatalogCacheHits.WithLabelValues().Inc()
}

func RecordCatalogCacheMiss() {
	CatalogCacheMisses.WithLabelValues().Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitRejection(provider, model string) {
	RateLimitRejections.WithLabelValues(provider, model).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func SetBudgetUsage(provider, model string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(provider, model).Set(ratio)
}

func SetRecorderQueueDepth(depth int) {
	RecorderQueueDepth.Set(float64(depth))
}

func IncRecorderDropped() {
	RecorderDroppedTotal.Inc()
}

func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
}
