// Package identity implements exact, anchored identifier matching against
// the allowlist/denylist registry.
//
// This is the trust boundary the whole engine leans on: the attack it
// defends against is an attacker registering "123456evil" to ride an
// unanchored match for the trusted "123456". Nothing in this package ever
// compares identifiers by substring, prefix, suffix, or pattern.
package identity

import (
	"context"

	"buildgate/internal/admission/models"
	id "buildgate/pkg/domain"
	dErrors "buildgate/pkg/domain-errors"
	"buildgate/pkg/requestcontext"
)

// Status is the registry classification of an identifier.
type Status int

const (
	// StatusUnlisted means the identifier matched no active entry.
	StatusUnlisted Status = iota
	// StatusAllowlisted means the identifier exactly matched an active
	// allowlist entry and no denylist entry.
	StatusAllowlisted
	// StatusDenylisted means the identifier exactly matched an active
	// denylist entry. Denylist wins over allowlist (most restrictive wins).
	StatusDenylisted
)

// String returns a log-friendly name for the status.
func (s Status) String() string {
	switch s {
	case StatusAllowlisted:
		return "allowlisted"
	case StatusDenylisted:
		return "denylisted"
	default:
		return "unlisted"
	}
}

// Registry is the read surface the matcher needs from the registry store.
type Registry interface {
	// ActiveEntries returns all non-expired entries for the identifier,
	// across both lists. Stores look identifiers up by exact equality.
	ActiveEntries(ctx context.Context, identifier id.ActorLogin) ([]*models.RegistryEntry, error)
}

// Matches reports whether the full identifier string equals the full entry
// string. This is the only legal comparison predicate against policy sets;
// it exists as a named function so tests can pin the anchored-matching
// property to one place.
func Matches(identifier id.ActorLogin, entry id.ActorLogin) bool {
	return identifier == entry
}

// Matcher resolves an identifier against the registry.
type Matcher struct {
	registry Registry
}

// NewMatcher constructs a Matcher over the given registry.
func NewMatcher(registry Registry) *Matcher {
	return &Matcher{registry: registry}
}

// Lookup validates the raw identifier and resolves its registry status.
//
// A raw identifier that fails charset validation returns
// CodeMalformedIdentity; callers fail closed and deny. When the identifier
// holds active entries on both lists, the denylist wins.
func (m *Matcher) Lookup(ctx context.Context, raw string) (Status, error) {
	login, err := id.ParseActorLogin(raw)
	if err != nil {
		return StatusUnlisted, err
	}
	return m.LookupLogin(ctx, login)
}

// LookupLogin resolves an already-validated identifier.
func (m *Matcher) LookupLogin(ctx context.Context, login id.ActorLogin) (Status, error) {
	entries, err := m.registry.ActiveEntries(ctx, login)
	if err != nil {
		return StatusUnlisted, dErrors.Wrap(err, dErrors.CodeUnavailable, "registry lookup failed")
	}

	now := requestcontext.Now(ctx)
	status := StatusUnlisted
	for _, entry := range entries {
		if !Matches(login, entry.Identifier) {
			// The store fetched by exact key; a mismatch here means the
			// store is broken, and trusting it would reopen the anchoring
			// hole. Skip the entry.
			continue
		}
		if !entry.Active(now) {
			continue
		}
		switch entry.List {
		case models.ListDeny:
			// Absorbing within the lookup: no later entry can soften it.
			return StatusDenylisted, nil
		case models.ListAllow:
			status = StatusAllowlisted
		}
	}
	return status, nil
}

// InRoster reports whether the login exactly matches a roster entry. Rosters
// (internal members, approvers) share the anchored-matching rule with the
// registry.
func InRoster(login id.ActorLogin, roster []id.ActorLogin) bool {
	for _, member := range roster {
		if Matches(login, member) {
			return true
		}
	}
	return false
}
