package handler

import (
	"strings"
	"time"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	pstrings "buildgate/pkg/platform/strings"
)

const (
	maxRepositoryLength = 200
	maxRawActorLength   = 200
	maxReasonLength     = 500
	maxChangedPaths     = 1000
)

// AdmitRequest is the HTTP request body for POST /v1/admissions. It is the
// normalized event shape; webhook payload parsing happens upstream.
type AdmitRequest struct {
	ID           string       `json:"id"` // optional caller-supplied event UUID
	Repository   string       `json:"repository"`
	Type         string       `json:"type"`
	SourceBranch string       `json:"source_branch"`
	TargetBranch string       `json:"target_branch"`
	IsFork       bool         `json:"is_fork"`
	ChangedPaths []string     `json:"changed_paths"`
	Actor        ActorPayload `json:"actor"`

	// Parsed values (populated by Validate)
	parsedID    id.EventID
	parsedLogin id.ActorLogin
}

// ActorPayload is the actor portion of an admission request.
type ActorPayload struct {
	Login       string    `json:"login"`
	CreatedAt   time.Time `json:"created_at"`
	IsApp       bool      `json:"is_app"`
	Association string    `json:"association"`
}

// Validate checks structural requirements only. The actor login is NOT
// charset-validated here: a malformed identifier must reach the engine so it
// can be denied and audited, not bounce off the transport layer unrecorded.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *AdmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Repository = strings.TrimSpace(r.Repository)
	if r.Repository == "" {
		return dErrors.New(dErrors.CodeValidation, "repository is required")
	}
	if len(r.Repository) > maxRepositoryLength {
		return dErrors.New(dErrors.CodeValidation, "repository exceeds maximum length")
	}

	r.Type = strings.TrimSpace(r.Type)
	if r.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "type is required")
	}

	if r.Actor.Login == "" {
		return dErrors.New(dErrors.CodeValidation, "actor.login is required")
	}
	if len(r.Actor.Login) > maxRawActorLength {
		return dErrors.New(dErrors.CodeValidation, "actor.login exceeds maximum length")
	}

	if len(r.ChangedPaths) > maxChangedPaths {
		return dErrors.New(dErrors.CodeValidation, "changed_paths exceeds maximum size")
	}

	if r.ID != "" {
		parsed, err := id.ParseEventID(r.ID)
		if err != nil {
			return err
		}
		r.parsedID = parsed
	} else {
		r.parsedID = id.NewEventID()
	}

	// Best effort: a login that fails identifier validation stays zero and
	// the engine's charset check produces the fail-closed denial.
	if login, err := id.ParseActorLogin(r.Actor.Login); err == nil {
		r.parsedLogin = login
	}
	return nil
}

// RawActor returns the actor identifier exactly as received.
func (r *AdmitRequest) RawActor() string { return r.Actor.Login }

// Event converts the validated request into the domain event.
func (r *AdmitRequest) Event(now time.Time) models.Event {
	return models.Event{
		ID:           r.parsedID,
		Repository:   r.Repository,
		Type:         models.EventType(r.Type),
		SourceBranch: r.SourceBranch,
		TargetBranch: r.TargetBranch,
		IsFork:       r.IsFork,
		ChangedPaths: pstrings.DedupeAndTrim(r.ChangedPaths),
		Actor: models.Actor{
			Login:       r.parsedLogin,
			CreatedAt:   r.Actor.CreatedAt,
			IsApp:       r.Actor.IsApp,
			Association: parseAssociation(r.Actor.Association),
		},
		ReceivedAt: now,
	}
}

func parseAssociation(s string) models.AssociationType {
	switch models.AssociationType(strings.ToLower(strings.TrimSpace(s))) {
	case models.AssociationMember:
		return models.AssociationMember
	case models.AssociationContributor:
		return models.AssociationContributor
	default:
		// Unknown associations get no benefit of the doubt.
		return models.AssociationNone
	}
}

// VoteRequest is the HTTP request body for approval and rejection votes.
type VoteRequest struct {
	Approver string `json:"approver"`

	parsedApprover id.ActorLogin
}

// Validate parses the approver identity. Reviewers are known identities, so
// unlike the admission path a malformed login is a hard validation error.
func (r *VoteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Approver = strings.TrimSpace(r.Approver)
	if r.Approver == "" {
		return dErrors.New(dErrors.CodeValidation, "approver is required")
	}
	approver, err := id.ParseActorLogin(r.Approver)
	if err != nil {
		return err
	}
	r.parsedApprover = approver
	return nil
}

// ParsedApprover returns the validated approver login.
func (r *VoteRequest) ParsedApprover() id.ActorLogin { return r.parsedApprover }

// RegistryAddRequest is the HTTP request body for adding a registry entry.
// The target list comes from the URL, not the body.
type RegistryAddRequest struct {
	Identifier string     `json:"identifier"`
	Reason     string     `json:"reason"`
	ExpiresAt  *time.Time `json:"expires_at"`

	parsedIdentifier id.ActorLogin
}

// Validate parses and validates the entry fields.
func (r *RegistryAddRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	if r.Identifier == "" {
		return dErrors.New(dErrors.CodeValidation, "identifier is required")
	}
	identifier, err := id.ParseActorLogin(r.Identifier)
	if err != nil {
		return err
	}
	r.parsedIdentifier = identifier

	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason exceeds maximum length")
	}
	return nil
}

// ParsedIdentifier returns the validated registry identifier.
func (r *RegistryAddRequest) ParsedIdentifier() id.ActorLogin { return r.parsedIdentifier }

// operatorIdentity resolves who performed an admin mutation, for the
// persisted created_by column. The admin token authenticates the surface;
// the header attributes the individual.
func operatorIdentity(headerValue string) string {
	if v := strings.TrimSpace(headerValue); v != "" {
		return v
	}
	return "admin"
}
