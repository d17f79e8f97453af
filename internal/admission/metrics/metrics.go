// Package metrics provides observability for the admission module. All
// methods are nil-safe so wiring metrics stays optional in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"buildgate/internal/admission/models"
)

// Metrics holds the Prometheus collectors for the admission module.
type Metrics struct {
	// Decision outcomes by outcome and reason code
	Decisions *prometheus.CounterVec

	// Trust tier assignments
	TierAssignments *prometheus.CounterVec

	// Approval workflow transitions by resulting state
	ApprovalTransitions *prometheus.CounterVec

	// Identifiers refused by charset validation
	IdentityRejections prometheus.Counter

	// Events refused by the ingestion throttle
	ThrottledEvents prometheus.Counter

	// Synchronous audit writes that failed and blocked a decision
	AuditFailures prometheus.Counter

	// Full admission evaluation latency
	EvaluateLatency prometheus.Histogram
}

// New creates a Metrics instance with all admission collectors registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "buildgate_decisions_total",
			Help: "Total admission decisions by outcome and reason",
		}, []string{"outcome", "reason"}),

		TierAssignments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "buildgate_tier_assignments_total",
			Help: "Total trust tier classifications by tier",
		}, []string{"tier"}),

		ApprovalTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "buildgate_approval_transitions_total",
			Help: "Total approval workflow transitions by resulting state",
		}, []string{"state"}),

		IdentityRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buildgate_identity_rejections_total",
			Help: "Total actor identifiers refused by charset validation",
		}),

		ThrottledEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buildgate_throttled_events_total",
			Help: "Total build events refused by the ingestion throttle",
		}),

		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buildgate_audit_failures_total",
			Help: "Total synchronous audit writes that failed and blocked a decision",
		}),

		EvaluateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "buildgate_admission_evaluate_duration_seconds",
			Help:    "Duration of full admission evaluation including stores and audit",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// DecisionIssued records one final decision.
func (m *Metrics) DecisionIssued(outcome models.Outcome, reason models.ReasonCode) {
	if m != nil {
		m.Decisions.WithLabelValues(string(outcome), string(reason)).Inc()
	}
}

// TierAssigned records one trust tier classification.
func (m *Metrics) TierAssigned(tier string) {
	if m != nil {
		m.TierAssignments.WithLabelValues(tier).Inc()
	}
}

// ApprovalTransition records one workflow transition.
func (m *Metrics) ApprovalTransition(state models.ApprovalState) {
	if m != nil {
		m.ApprovalTransitions.WithLabelValues(string(state)).Inc()
	}
}

// IdentityRejected records one refused identifier.
func (m *Metrics) IdentityRejected() {
	if m != nil {
		m.IdentityRejections.Inc()
	}
}

// EventThrottled records one throttled event.
func (m *Metrics) EventThrottled() {
	if m != nil {
		m.ThrottledEvents.Inc()
	}
}

// AuditFailed records one blocked decision due to audit unavailability.
func (m *Metrics) AuditFailed() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
