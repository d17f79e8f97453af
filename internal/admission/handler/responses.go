package handler

import (
	"time"

	"buildgate/internal/admission/models"
	audit "buildgate/pkg/platform/audit"
)

// DecisionResponse is the HTTP response for POST /v1/admissions.
type DecisionResponse struct {
	EventID    string          `json:"event_id"`
	Actor      string          `json:"actor,omitempty"`
	Outcome    string          `json:"outcome"`
	Tier       string          `json:"tier"`
	Reason     string          `json:"reason"`
	Profile    ProfileResponse `json:"profile"`
	BuildToken string          `json:"build_token,omitempty"`
	ApprovalID string          `json:"approval_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ProfileResponse is the sandbox profile portion of a decision.
type ProfileResponse struct {
	NetworkMode     string   `json:"network_mode"`
	FilesystemMode  string   `json:"filesystem_mode"`
	CPUMillis       int      `json:"cpu_millis"`
	MemoryMB        int      `json:"memory_mb"`
	CredentialScope []string `json:"credential_scope,omitempty"`
	TokenTTLSeconds int      `json:"token_ttl_seconds,omitempty"`
}

// FromDecision converts a domain decision to its HTTP response.
func FromDecision(d *models.Decision) *DecisionResponse {
	resp := &DecisionResponse{
		EventID:    d.EventID.String(),
		Outcome:    string(d.Outcome),
		Tier:       d.Tier.String(),
		Reason:     string(d.Reason),
		Profile:    fromProfile(d.Profile),
		BuildToken: d.BuildToken,
		CreatedAt:  d.CreatedAt,
	}
	if !d.Actor.IsZero() {
		resp.Actor = d.Actor.String()
	}
	if d.ApprovalID != nil {
		resp.ApprovalID = d.ApprovalID.String()
	}
	return resp
}

func fromProfile(p models.SandboxProfile) ProfileResponse {
	return ProfileResponse{
		NetworkMode:     string(p.NetworkMode),
		FilesystemMode:  string(p.FilesystemMode),
		CPUMillis:       p.CPUMillis,
		MemoryMB:        p.MemoryMB,
		CredentialScope: p.CredentialScope,
		TokenTTLSeconds: int(p.TokenTTL.Seconds()),
	}
}

// ApprovalResponse is the HTTP representation of an approval request.
type ApprovalResponse struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	Repository  string     `json:"repository"`
	Actor       string     `json:"actor"`
	State       string     `json:"state"`
	Approvers   []string   `json:"approvers"`
	RequestedAt time.Time  `json:"requested_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// FromApproval converts a domain approval request to its HTTP response.
func FromApproval(req *models.ApprovalRequest) *ApprovalResponse {
	approvers := make([]string, 0, len(req.Approvers))
	for _, a := range req.Approvers {
		approvers = append(approvers, a.String())
	}
	return &ApprovalResponse{
		ID:          req.ID.String(),
		EventID:     req.Event.ID.String(),
		Repository:  req.Event.Repository,
		Actor:       req.Event.Actor.Login.String(),
		State:       string(req.State),
		Approvers:   approvers,
		RequestedAt: req.RequestedAt,
		ExpiresAt:   req.ExpiresAt,
		ResolvedAt:  req.ResolvedAt,
	}
}

// FromApprovals converts a list of approval requests.
func FromApprovals(reqs []*models.ApprovalRequest) []*ApprovalResponse {
	out := make([]*ApprovalResponse, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, FromApproval(r))
	}
	return out
}

// RegistryEntryResponse is the HTTP representation of a registry entry.
type RegistryEntryResponse struct {
	ID         string     `json:"id"`
	List       string     `json:"list"`
	Identifier string     `json:"identifier"`
	Reason     string     `json:"reason"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  string     `json:"created_by"`
}

// FromEntry converts a registry entry to its HTTP response.
func FromEntry(e *models.RegistryEntry) *RegistryEntryResponse {
	return &RegistryEntryResponse{
		ID:         e.ID.String(),
		List:       string(e.List),
		Identifier: e.Identifier.String(),
		Reason:     e.Reason,
		ExpiresAt:  e.ExpiresAt,
		CreatedAt:  e.CreatedAt,
		CreatedBy:  e.CreatedBy,
	}
}

// FromEntries converts a list of registry entries.
func FromEntries(entries []*models.RegistryEntry) []*RegistryEntryResponse {
	out := make([]*RegistryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromEntry(e))
	}
	return out
}

// AuditEventResponse is the HTTP representation of one audit record.
type AuditEventResponse struct {
	Category   string    `json:"category"`
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Repository string    `json:"repository,omitempty"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ApprovalID string    `json:"approval_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// FromAuditEvents converts audit records for the admin surface.
func FromAuditEvents(events []audit.Event) []*AuditEventResponse {
	out := make([]*AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, &AuditEventResponse{
			Category:   string(e.Category),
			Timestamp:  e.Timestamp,
			EventID:    e.EventID,
			Actor:      e.Actor,
			Repository: e.Repository,
			Action:     e.Action,
			Outcome:    e.Outcome,
			Tier:       e.Tier,
			Reason:     e.Reason,
			ApprovalID: e.ApprovalID,
			RequestID:  e.RequestID,
		})
	}
	return out
}
