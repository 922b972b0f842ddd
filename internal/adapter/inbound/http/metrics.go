package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "tutorgate"

// Metrics holds all Prometheus metrics for tutorgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	AuthFailures        *prometheus.CounterVec
	SessionsIssued      prometheus.Counter
	RateLimitRejections *prometheus.CounterVec
	LLMCost             prometheus.Counter
	OAuthExchanges      *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "surface", "status"}, // surface=api/auth/oauth/other
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "surface"},
		),
		AuthFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_failures_total",
				Help:      "Rejected credentials by reason",
			},
			[]string{"reason"}, // reason=missing/invalid/expired/revoked/store_unavailable
		),
		SessionsIssued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_issued_total",
				Help:      "Sessions started by login, registration or OAuth exchange",
			},
		),
		RateLimitRejections: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"bucket", "code"},
		),
		LLMCost: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "llm_cost_total",
				Help:      "Accumulated LLM cost recorded against user budgets",
			},
		),
		OAuthExchanges: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "oauth_exchanges_total",
				Help:      "OAuth code exchanges by result",
			},
			[]string{"result"}, // result=success/invalid/conflict/error
		),
	}
}
