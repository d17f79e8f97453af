package domain

import (
	dErrors "buildgate/pkg/domain-errors"
)

// ActorLogin is the opaque identifier of the account that triggered a CI
// event. Equality against policy sets is the only legal comparison; no
// substring, prefix, or pattern matching is ever performed on it.
//
// Parsing enforces an explicit charset so look-alike identifiers built from
// homoglyphs, whitespace, or control characters can never produce a match
// against a legitimate entry. Construct via ParseActorLogin at trust
// boundaries; direct casting bypasses validation.
type ActorLogin string

// maxLoginLength bounds identifiers well above GitHub's 39-character login
// limit while still rejecting pathological input.
const maxLoginLength = 80

// ParseActorLogin validates external input into an ActorLogin.
//
// Allowed: ASCII letters, digits, hyphen, underscore, and the "[bot]" style
// bracket suffix used by app accounts. Everything else (unicode look-alikes,
// whitespace, separators, null bytes) fails with CodeMalformedIdentity,
// which callers treat as a deny.
func ParseActorLogin(s string) (ActorLogin, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeMalformedIdentity, "actor identifier cannot be empty")
	}
	if len(s) > maxLoginLength {
		return "", dErrors.New(dErrors.CodeMalformedIdentity, "actor identifier exceeds maximum length")
	}
	for i := 0; i < len(s); i++ {
		if !isLoginByte(s[i]) {
			return "", dErrors.Newf(dErrors.CodeMalformedIdentity,
				"actor identifier contains disallowed byte at position %d", i)
		}
	}
	return ActorLogin(s), nil
}

// isLoginByte is deliberately a byte-level check: multi-byte UTF-8 sequences
// are rejected wholesale, which closes the homoglyph class of spoofs.
func isLoginByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '[' || b == ']':
		return true
	}
	return false
}

// String returns the raw identifier.
func (l ActorLogin) String() string { return string(l) }

// IsZero reports whether the login is empty (unparsed).
func (l ActorLogin) IsZero() bool { return l == "" }
