// Package metrics holds the Prometheus collectors of the issuance pipeline.
// All methods are safe on a nil *Metrics so collaborators can run without them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for workers, verification and webhooks.
type Metrics struct {
	// Jobs finished per outcome: success, requeued, failed
	JobOutcome *prometheus.CounterVec

	// Duration of a single job from claim to terminal write
	JobDuration prometheus.Histogram

	// Jobs currently held by this process
	JobsInFlight prometheus.Gauge

	// Claims lost to another worker
	ClaimConflicts prometheus.Counter

	// Verification outcomes by input form and result
	Verifications *prometheus.CounterVec

	VerifyDuration prometheus.Histogram

	// Webhook deliveries by event type and outcome
	Webhooks *prometheus.CounterVec

	// Rows touched by the janitor by task
	Housekeeping *prometheus.CounterVec
}

// New registers the pipeline collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricert_issuance_jobs_total",
			Help: "Issuance jobs finished by outcome",
		}, []string{"outcome"}),

		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agricert_issuance_job_duration_seconds",
			Help:    "Duration of issuance job processing",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agricert_issuance_jobs_in_flight",
			Help: "Issuance jobs currently processed by this worker",
		}),

		ClaimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "agricert_issuance_claim_conflicts_total",
			Help: "Claims that lost the race to another worker",
		}),

		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricert_verifications_total",
			Help: "Credential verifications by input form and result",
		}, []string{"form", "result"}),

		VerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agricert_verification_duration_seconds",
			Help:    "Duration of credential verification",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		Webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricert_webhooks_total",
			Help: "Provider webhook deliveries by event type and outcome",
		}, []string{"type", "outcome"}),

		Housekeeping: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agricert_housekeeping_rows_total",
			Help: "Rows changed by periodic housekeeping by task",
		}, []string{"task"}),
	}
}

// IncJobOutcome records a finished job.
func (m *Metrics) IncJobOutcome(outcome string) {
	if m != nil {
		m.JobOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveJobDuration(d time.Duration) {
	if m != nil {
		m.JobDuration.Observe(d.Seconds())
	}
}

// SetInFlight records the size of the in-flight set.
func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.JobsInFlight.Set(float64(n))
	}
}

func (m *Metrics) IncClaimConflict() {
	if m != nil {
		m.ClaimConflicts.Inc()
	}
}

// IncVerification records a verification result for an input form.
func (m *Metrics) IncVerification(form string, valid bool) {
	if m != nil {
		result := "invalid"
		if valid {
			result = "valid"
		}
		m.Verifications.WithLabelValues(form, result).Inc()
	}
}

func (m *Metrics) ObserveVerifyDuration(d time.Duration) {
	if m != nil {
		m.VerifyDuration.Observe(d.Seconds())
	}
}

// IncWebhook records a webhook delivery.
func (m *Metrics) IncWebhook(eventType, outcome string) {
	if m != nil {
		m.Webhooks.WithLabelValues(eventType, outcome).Inc()
	}
}

// AddHousekeeping records rows changed by a janitor task.
func (m *Metrics) AddHousekeeping(task string, n int) {
	if m != nil && n > 0 {
		m.Housekeeping.WithLabelValues(task).Add(float64(n))
	}
}
