package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: build decisions, approval resolutions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and
	// forensics. These feed into SIEM systems and alerting pipelines.
	// Examples: rejected identities, denylist hits, throttled ingestion.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled with shorter retention.
	// Examples: approval votes, registry sweeps.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out. Records are
// append-only: nothing updates or deletes them.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	EventID    string // build event the record concerns, when applicable
	Actor      string // raw actor identifier as received, pre-validation
	Repository string
	Action     string // what happened, one of the Event* constants
	Outcome    string // decision outcome or transition result
	Tier       string // trust tier assigned, when a classification ran
	Reason     string // machine-readable reason code
	ApprovalID string // approval request the record concerns, when applicable
	RequestID  string // correlation ID from HTTP request context
}

type AuditEvent string

const (
	// Admission events
	EventDecisionIssued    AuditEvent = "decision_issued"
	EventIdentityRejected  AuditEvent = "identity_rejected"
	EventIngestionThrottle AuditEvent = "ingestion_throttled"

	// Approval events
	EventApprovalOpened   AuditEvent = "approval_opened"
	EventApprovalVote     AuditEvent = "approval_vote"
	EventApprovalResolved AuditEvent = "approval_resolved"

	// Registry events
	EventRegistryEntryAdded   AuditEvent = "registry_entry_added"
	EventRegistryEntryRemoved AuditEvent = "registry_entry_removed"

	// Token events
	EventBuildTokenMinted AuditEvent = "build_token_minted"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - the authorization trail proper
	EventDecisionIssued:   CategoryCompliance,
	EventApprovalResolved: CategoryCompliance,

	// Security events - feed into SIEM and alerting
	EventIdentityRejected:     CategorySecurity,
	EventIngestionThrottle:    CategorySecurity,
	EventRegistryEntryAdded:   CategorySecurity,
	EventRegistryEntryRemoved: CategorySecurity,

	// Operations events - routine activity, can be sampled
	EventApprovalOpened:   CategoryOperations,
	EventApprovalVote:     CategoryOperations,
	EventBuildTokenMinted: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
