package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	// Router requests by action and outcome code ("ok" on success)
	RouterRequests *prometheus.CounterVec
	RouterLatency  *prometheus.HistogramVec

	// Finished authorization attempts by terminal state
	AuthAttempts *prometheus.CounterVec
	AuthDuration prometheus.Histogram

	// Gateway calls by resource and HTTP status ("error" without a response)
	GatewayRequests *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
}

// NewMetrics registers all collectors with reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RouterRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "octobridge_router_requests_total",
			Help: "Messages handled by the router, by action and outcome",
		}, []string{"action", "outcome"}),

		RouterLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "octobridge_router_request_duration_seconds",
			Help:    "Time to produce a response envelope, by action",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10, 60},
		}, []string{"action"}),

		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "octobridge_auth_attempts_total",
			Help: "Finished authorization attempts by terminal state",
		}, []string{"outcome"}),

		AuthDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "octobridge_auth_attempt_duration_seconds",
			Help:    "Duration of authorization attempts from consent tab to terminal state",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),

		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "octobridge_gateway_requests_total",
			Help: "Calls to the GitHub REST API by resource and status",
		}, []string{"resource", "status"}),

		GatewayLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "octobridge_gateway_request_duration_seconds",
			Help:    "Duration of GitHub REST API calls by resource",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"resource"}),
	}
}

// ObserveRouterRequest records one handled message.
func (m *Metrics) ObserveRouterRequest(action, outcome string, d time.Duration) {
	if m != nil {
		m.RouterRequests.WithLabelValues(action, outcome).Inc()
		m.RouterLatency.WithLabelValues(action).Observe(d.Seconds())
	}
}

// RecordAuthAttempt records a finished authorization attempt.
func (m *Metrics) RecordAuthAttempt(outcome string, d time.Duration) {
	if m != nil {
		m.AuthAttempts.WithLabelValues(outcome).Inc()
		m.AuthDuration.Observe(d.Seconds())
	}
}

// ObserveGatewayRequest records one upstream call. Status 0 means no response.
func (m *Metrics) ObserveGatewayRequest(resource string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.GatewayRequests.WithLabelValues(resource, label).Inc()
	m.GatewayLatency.WithLabelValues(resource).Observe(d.Seconds())
}
