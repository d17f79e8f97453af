// Package domainerrors provides coded errors for the domain layer.
//
// Services return coded errors so transports can map them to protocol-level
// responses without string matching. Wrap at each layer boundary; the
// outermost code wins when mapping to HTTP.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and retry semantics.
type Code string

const (
	// CodeValidation marks input that fails field-level validation.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks input that fails domain parsing at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeMalformedIdentity marks an actor identifier that fails charset
	// validation. Fails closed: callers treat it as a deny.
	CodeMalformedIdentity Code = "malformed_identity"
	// CodeBadRequest marks a structurally broken request (e.g. invalid JSON).
	CodeBadRequest Code = "bad_request"
	// CodeNotFound marks a reference to a nonexistent resource.
	CodeNotFound Code = "not_found"
	// CodeUnauthorized marks missing or invalid caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeForbidden marks a caller that is known but not permitted.
	CodeForbidden Code = "forbidden"
	// CodeConflict marks a state conflict (e.g. terminal-state transition).
	CodeConflict Code = "conflict"
	// CodeThrottled marks a caller that exceeded its ingestion rate.
	CodeThrottled Code = "throttled"
	// CodeUnavailable marks a dependency outage. Retryable: callers should
	// back off and retry rather than treat the operation as final.
	CodeUnavailable Code = "unavailable"
	// CodePolicyConfig marks invalid policy configuration. Fatal at load time;
	// the engine refuses to start rather than run with a broken mapping.
	CodePolicyConfig Code = "policy_config_invalid"
	// CodeInvariantViolation marks a broken internal invariant. Always a bug.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeInternal marks unexpected internal failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Construct via New or Wrap.
type Error struct {
	code    Code
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Message returns the message without the wrapped cause. Safe to surface to
// callers for non-internal codes.
func (e *Error) Message() string { return e.message }

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{code: code, message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. Returns nil if err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: err}
}

// CodeOf extracts the outermost code from err. Uncoded errors map to
// CodeInternal so nothing leaks as a transport-level success.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// IsRetryable reports whether the error indicates a transient condition the
// caller should retry rather than finalize.
func IsRetryable(err error) bool {
	return HasCode(err, CodeUnavailable) || HasCode(err, CodeThrottled)
}
