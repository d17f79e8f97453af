// Package models defines the data model of the admission module: events,
// decisions, sandbox profiles, approval requests, and registry entries.
package models

import (
	"time"

	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
)

// EventType categorizes inbound repository events.
type EventType string

const (
	EventPush              EventType = "push"
	EventPullRequest       EventType = "pull_request"
	EventPullRequestTarget EventType = "pull_request_target"
)

// IsValid reports whether the event type is one of the recognized values.
// Unrecognized types are not a transport error: the policy engine denies them
// with ReasonUnrecognizedEvent so the attempt still lands in the audit log.
func (t EventType) IsValid() bool {
	switch t {
	case EventPush, EventPullRequest, EventPullRequestTarget:
		return true
	}
	return false
}

// String returns the wire representation.
func (t EventType) String() string { return string(t) }

// AssociationType is the repository association reported for the actor by
// the upstream forge. It is a hint, never a trust decision: the classifier
// only honors AssociationMember after roster verification.
type AssociationType string

const (
	AssociationMember      AssociationType = "member"
	AssociationContributor AssociationType = "contributor"
	AssociationNone        AssociationType = "none"
)

// Actor is the identity that triggered a CI event.
type Actor struct {
	Login       id.ActorLogin   `json:"login"`
	CreatedAt   time.Time       `json:"created_at"` // account creation, not event time
	IsApp       bool            `json:"is_app"`
	Association AssociationType `json:"association"`
}

// Event is the normalized repository event the engine decides on. The
// webhook receiver owns payload parsing; the engine never sees raw webhooks.
type Event struct {
	ID           id.EventID `json:"id"`
	Repository   string     `json:"repository"`
	Type         EventType  `json:"type"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	IsFork       bool       `json:"is_fork"`
	ChangedPaths []string   `json:"changed_paths"`
	Actor        Actor      `json:"actor"`
	ReceivedAt   time.Time  `json:"received_at"`
}

// ContributorHistory is the per-actor record the classifier consults.
type ContributorHistory struct {
	MergedContributions int  `json:"merged_contributions"`
	PriorDenial         bool `json:"prior_denial"`
}

// Outcome is the admission verdict for an event.
type Outcome string

const (
	OutcomeAdmit             Outcome = "admit"
	OutcomeAdmitWithApproval Outcome = "admit_with_approval"
	OutcomeDeny              Outcome = "deny"
)

// IsValid reports whether the outcome is one of the defined values.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAdmit, OutcomeAdmitWithApproval, OutcomeDeny:
		return true
	}
	return false
}

// ReasonCode identifies the first-match-wins rule that produced a decision.
// One code per rule keeps the audit trail reviewable without reconstructing
// boolean combinations.
type ReasonCode string

const (
	ReasonActorRevoked         ReasonCode = "actor_revoked"
	ReasonDependencyOrCIChange ReasonCode = "dependency_or_ci_change"
	ReasonTrustedInternal      ReasonCode = "trusted_internal"
	ReasonTrustedRecurring     ReasonCode = "trusted_recurring"
	ReasonManualReviewRequired ReasonCode = "manual_review_required"
	ReasonNoMatchingPolicy     ReasonCode = "no_matching_policy"
	ReasonUnrecognizedEvent    ReasonCode = "unrecognized_event"
	ReasonMalformedIdentity    ReasonCode = "malformed_identity"
	ReasonApprovalGranted      ReasonCode = "approval_granted"
	ReasonApprovalRejected     ReasonCode = "approval_rejected"
	ReasonApprovalExpired      ReasonCode = "approval_expired"
)

// NetworkMode constrains build network access.
type NetworkMode string

const (
	NetworkNone     NetworkMode = "none"
	NetworkIsolated NetworkMode = "isolated"
	NetworkFull     NetworkMode = "full"
)

// IsValid reports whether the mode is one of the defined values.
func (m NetworkMode) IsValid() bool {
	return m == NetworkNone || m == NetworkIsolated || m == NetworkFull
}

// FilesystemMode constrains build filesystem access.
type FilesystemMode string

const (
	FilesystemReadOnly  FilesystemMode = "read_only"
	FilesystemReadWrite FilesystemMode = "read_write"
)

// IsValid reports whether the mode is one of the defined values.
func (m FilesystemMode) IsValid() bool {
	return m == FilesystemReadOnly || m == FilesystemReadWrite
}

// SandboxProfile is the concrete execution constraint set attached to a
// decision. The external build executor is responsible for honoring it; the
// engine only derives it.
type SandboxProfile struct {
	NetworkMode     NetworkMode    `json:"network_mode"`
	FilesystemMode  FilesystemMode `json:"filesystem_mode"`
	CPUMillis       int            `json:"cpu_millis"`
	MemoryMB        int            `json:"memory_mb"`
	CredentialScope []string       `json:"credential_scope"`
	TokenTTL        time.Duration  `json:"token_ttl"`
}

// HasCredentials reports whether the profile grants any secret access.
func (p SandboxProfile) HasCredentials() bool {
	return len(p.CredentialScope) > 0
}

// Decision is the auditable admission verdict. Decisions are immutable once
// recorded: finalizing an approval appends a new Decision, it never mutates
// the original.
type Decision struct {
	EventID    id.EventID     `json:"event_id"`
	Actor      id.ActorLogin  `json:"actor"`
	Outcome    Outcome        `json:"outcome"`
	Tier       id.TrustTier   `json:"tier"`
	Reason     ReasonCode     `json:"reason"`
	Profile    SandboxProfile `json:"profile"`
	BuildToken string         `json:"build_token,omitempty"`
	ApprovalID *id.ApprovalID `json:"approval_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ApprovalState is the lifecycle state of an approval request. The only legal
// transitions are Pending to one of the three terminal states.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
	ApprovalExpired  ApprovalState = "expired"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ApprovalState) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// ApprovalRequest tracks a pending manual review. The stored Event snapshot
// lets the engine re-run policy evaluation when the request is finalized.
type ApprovalRequest struct {
	ID          id.ApprovalID   `json:"id"`
	Event       Event           `json:"event"`
	State       ApprovalState   `json:"state"`
	Approvers   []id.ActorLogin `json:"approvers"` // distinct identities that approved so far
	RequestedAt time.Time       `json:"requested_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// HasApprover reports whether the approver already counted toward the
// threshold. Duplicate approvals are a no-op, never a double count.
func (r *ApprovalRequest) HasApprover(login id.ActorLogin) bool {
	for _, a := range r.Approvers {
		if a == login {
			return true
		}
	}
	return false
}

// ListKind distinguishes registry lists.
type ListKind string

const (
	ListAllow ListKind = "allow"
	ListDeny  ListKind = "deny"
)

// ParseListKind validates external input into a ListKind.
func ParseListKind(s string) (ListKind, error) {
	k := ListKind(s)
	if k != ListAllow && k != ListDeny {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown registry list %q", s)
	}
	return k, nil
}

// RegistryEntry is one exact-identifier allowlist or denylist entry. Entries
// are stored and compared as fully anchored tokens; nothing in the system
// treats an identifier as a pattern with open boundaries.
type RegistryEntry struct {
	ID         id.EntryID    `json:"id"`
	List       ListKind      `json:"list"`
	Identifier id.ActorLogin `json:"identifier"`
	Reason     string        `json:"reason"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	CreatedBy  string        `json:"created_by"`
}

// Active reports whether the entry is in force at the given instant.
func (e *RegistryEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
