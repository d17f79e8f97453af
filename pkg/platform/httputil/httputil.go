// Package httputil maps domain errors onto HTTP responses and centralizes
// JSON decoding for handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "buildgate/pkg/domain-errors"
)

// Validatable is implemented by request DTOs that can validate and parse
// themselves after decoding.
type Validatable interface {
	Validate() error
}

// errorResponse is the uniform wire shape for failures.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// codeStatus maps domain error codes to HTTP status codes. Codes absent from
// the map fall through to 500 so nothing unexpected leaks as a success.
var codeStatus = map[dErrors.Code]int{
	dErrors.CodeValidation:        http.StatusBadRequest,
	dErrors.CodeInvalidInput:      http.StatusBadRequest,
	dErrors.CodeBadRequest:        http.StatusBadRequest,
	dErrors.CodeMalformedIdentity: http.StatusForbidden,
	dErrors.CodeNotFound:          http.StatusNotFound,
	dErrors.CodeUnauthorized:      http.StatusUnauthorized,
	dErrors.CodeForbidden:         http.StatusForbidden,
	dErrors.CodeConflict:          http.StatusConflict,
	dErrors.CodeThrottled:         http.StatusTooManyRequests,
	dErrors.CodeUnavailable:       http.StatusServiceUnavailable,
}

// wireCode is the stable string emitted to clients for each domain code.
var wireCode = map[dErrors.Code]string{
	dErrors.CodeValidation:        "validation_error",
	dErrors.CodeInvalidInput:      "invalid_input",
	dErrors.CodeBadRequest:        "bad_request",
	dErrors.CodeMalformedIdentity: "malformed_identity",
	dErrors.CodeNotFound:          "not_found",
	dErrors.CodeUnauthorized:      "unauthorized",
	dErrors.CodeForbidden:         "forbidden",
	dErrors.CodeConflict:          "conflict",
	dErrors.CodeThrottled:         "throttled",
	dErrors.CodeUnavailable:       "unavailable",
}

// WriteError translates a domain error into an HTTP response. Internal
// failures deliberately omit the description: the message may carry store or
// broker details that do not belong on the wire.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)

	status, ok := codeStatus[code]
	if !ok {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	resp := errorResponse{Error: wireCode[code]}
	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Description = de.Message()
	}
	if code == dErrors.CodeUnavailable || code == dErrors.CodeThrottled {
		// Retryable: tell well-behaved clients to back off.
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, resp)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	// Headers are already written; an encode failure here can only be logged
	// by middleware, not surfaced to the client.
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeAndPrepare decodes the request body into T and runs its validation.
// On failure it writes the error response and returns ok=false; handlers
// just return.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	req := PT(new(T))
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "request body decode failed",
				"request_id", requestID,
				"error", err,
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body is not valid JSON"))
		return nil, false
	}
	if err := req.Validate(); err != nil {
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
