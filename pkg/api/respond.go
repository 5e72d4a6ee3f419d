// Package api exposes the service over HTTP under /api/v1. Handlers stay
// thin: decode, authenticate, call the workflow core, encode. All errors
// use one envelope so clients can switch on error.code.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/covenant-data/covenant/pkg/errs"
)

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the JSON shape of every non-2xx response.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps error kinds to HTTP status codes.
func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindValidation, errs.KindBrokenContract:
		return http.StatusBadRequest
	case errs.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteErr maps a typed core error onto the envelope. Internal errors are
// logged and never expose their cause to the client.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusOf(kind)

	message := "An unexpected error occurred."
	var details map[string]any
	var typed *errs.Error
	if status != http.StatusInternalServerError {
		if errors.As(err, &typed) {
			message = typed.Message
			details = typed.Details
		} else {
			message = err.Error()
		}
	} else {
		slog.Error("internal server error", "path", r.URL.Path, "error", err)
	}

	writeEnvelope(w, r, status, string(kind), message, details)
}

// WriteValidation writes a 400 VALIDATION_ERROR.
func WriteValidation(w http.ResponseWriter, r *http.Request, message string) {
	writeEnvelope(w, r, http.StatusBadRequest, string(errs.KindValidation), message, nil)
}

// WriteUnauthorized writes a 401. Unauthenticated requests never reach
// the core, so the code is produced here rather than in pkg/errs.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	if message == "" {
		message = "Authentication required"
	}
	writeEnvelope(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// WriteForbidden writes a 403 FORBIDDEN.
func WriteForbidden(w http.ResponseWriter, r *http.Request, message string) {
	if message == "" {
		message = "Insufficient permissions"
	}
	writeEnvelope(w, r, http.StatusForbidden, string(errs.KindForbidden), message, nil)
}

// WriteNotFound writes a 404 NOT_FOUND.
func WriteNotFound(w http.ResponseWriter, r *http.Request, message string) {
	writeEnvelope(w, r, http.StatusNotFound, string(errs.KindNotFound), message, nil)
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	writeEnvelope(w, r, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
		"Rate limit exceeded. Retry after the specified interval.", nil)
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	WriteJSON(w, status, ErrorEnvelope{
		Error:     ErrorBody{Code: code, Message: message, Details: details},
		RequestID: GetRequestID(r.Context()),
	})
}
