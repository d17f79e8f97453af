package domain

import (
	"github.com/google/uuid"

	dErrors "buildgate/pkg/domain-errors"
)

// Typed UUIDs keep event, approval, and registry identifiers from being
// swapped at call sites. Construct via the Parse functions at trust
// boundaries; direct casting bypasses validation.
type (
	// EventID identifies a single inbound admission event.
	EventID uuid.UUID

	// ApprovalID identifies a manual-approval request.
	ApprovalID uuid.UUID

	// EntryID identifies an allowlist or denylist registry entry.
	EntryID uuid.UUID
)

// NewEventID returns a fresh random EventID.
func NewEventID() EventID { return EventID(uuid.New()) }

// NewApprovalID returns a fresh random ApprovalID.
func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }

// NewEntryID returns a fresh random EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// ParseEventID parses external input into an EventID.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EventID{}, err
	}
	return EventID(u), nil
}

// ParseApprovalID parses external input into an ApprovalID.
func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ApprovalID{}, err
	}
	return ApprovalID(u), nil
}

// ParseEntryID parses external input into an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(u), nil
}

func (id EventID) String() string    { return uuid.UUID(id).String() }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string    { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps typed IDs as canonical UUID strings on the wire and
// in stored JSON snapshots.

func (id EventID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id ApprovalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id EntryID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ApprovalID) UnmarshalText(text []byte) error {
	parsed, err := ParseApprovalID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *EntryID) UnmarshalText(text []byte) error {
	parsed, err := ParseEntryID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID enforces the shared invariant: IDs must be valid, non-empty,
// non-nil UUIDs. Rejection happens at API entry points so stores and
// services never see malformed identifiers.
func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id exceeds maximum length")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
