package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/observability"
)

// StageMetrics holds Prometheus metrics for the built-in pipeline stages.
type StageMetrics struct {
	rateLimitAllowed  *prometheus.CounterVec
	rateLimitRejected *prometheus.CounterVec
	accessDenied      *prometheus.CounterVec
	validationFailed  prometheus.Counter
	bodyRejected      prometheus.Counter
	panicsRecovered   prometheus.Counter
}

var (
	stageMetrics     *StageMetrics
	stageMetricsOnce sync.Once
)

// GetStageMetrics returns the singleton stage metrics instance,
// creating and registering it on first use.
func GetStageMetrics() *StageMetrics {
	stageMetricsOnce.Do(func() {
		stageMetrics = newStageMetrics()
	})
	return stageMetrics
}

func newStageMetrics() *StageMetrics {
	return &StageMetrics{
		rateLimitAllowed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "ratelimit_allowed_total",
				Help:      "Total number of requests admitted by the rate limiter.",
			},
			[]string{"route"},
		),
		rateLimitRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "ratelimit_rejected_total",
				Help:      "Total number of requests rejected by the rate limiter.",
			},
			[]string{"route"},
		),
		accessDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "access_denied_total",
				Help:      "Total number of requests rejected by the access gate.",
			},
			[]string{"route"},
		),
		validationFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "validation_failures_total",
				Help:      "Total number of requests rejected by parameter-type validation.",
			},
		),
		bodyRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "body_rejections_total",
				Help:      "Total number of request bodies rejected by the body parser.",
			},
		),
		panicsRecovered: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "relay",
				Subsystem: "pipeline",
				Name:      "panics_recovered_total",
				Help:      "Total number of handler panics recovered.",
			},
		),
	}
}

// routeLabel returns the metric label for the current request's route.
func routeLabel(c *relay.Context) string {
	if pattern := c.RoutePattern(); pattern != "" {
		return pattern
	}
	return observability.UnmatchedRoute
}
