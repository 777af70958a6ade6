package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the authorize pipeline and token endpoint.
type Metrics struct {
	Requests                 *prometheus.CounterVec
	ClientResolutionFailures *prometheus.CounterVec
	ClaimValidationFailures  *prometheus.CounterVec
	ReplayRejections         prometheus.Counter
	UnexpectedErrors         prometheus.Counter
	StageDuration            *prometheus.HistogramVec
	TokenRequests            *prometheus.CounterVec
}

// New registers all authorize metrics with reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authorize_requests_total",
			Help: "Authorize requests by result (success, error) and error code",
		}, []string{"result", "error_code"}),
		ClientResolutionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authorize_client_resolution_failures_total",
			Help: "Client registry lookups that failed, by reason",
		}, []string{"reason"}),
		ClaimValidationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "authorize_claim_validation_failures_total",
			Help: "Request object claims that failed validation, by claim name",
		}, []string{"claim"}),
		ReplayRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "authorize_replay_rejections_total",
			Help: "Request objects rejected because their jti was already used",
		}),
		UnexpectedErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "authorize_unexpected_errors_total",
			Help: "Panics and untagged errors caught by the outcome dispatcher",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authorize_stage_duration_seconds",
			Help:    "Duration of each authorize pipeline stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"stage"}),
		TokenRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "token_requests_total",
			Help: "Token endpoint requests by result (success or OAuth error code)",
		}, []string{"result"}),
	}
}

// Nil-safe helpers so services can run without metrics in tests.

func (m *Metrics) IncrementRequest(result, errorCode string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(result, errorCode).Inc()
}

func (m *Metrics) IncrementClientResolutionFailure(reason string) {
	if m == nil {
		return
	}
	m.ClientResolutionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementClaimValidationFailure(claim string) {
	if m == nil {
		return
	}
	m.ClaimValidationFailures.WithLabelValues(claim).Inc()
}

func (m *Metrics) IncrementReplayRejection() {
	if m == nil {
		return
	}
	m.ReplayRejections.Inc()
}

func (m *Metrics) IncrementUnexpectedError() {
	if m == nil {
		return
	}
	m.UnexpectedErrors.Inc()
}

// ObserveStage records a stage duration. Call with time.Now() at the start of the stage.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTokenRequest(result string) {
	if m == nil {
		return
	}
	m.TokenRequests.WithLabelValues(result).Inc()
}
