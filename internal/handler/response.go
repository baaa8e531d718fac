package handler

// RESPONSE HELPERS:
// Every error response has the same shape:
//   {"error": "conflict", "message": "invalid referral code", "field": "referralCode"}
//
// "field" is only present when the failure can be pinned on one input, so the
// client can highlight it.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront-auth/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

const genericMessage = "An internal error occurred"

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "conflict")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input, when known
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps the apperror taxonomy to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrIntegrity):
		return http.StatusInternalServerError, "internal_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to its HTTP status and sends it.
//
// Only the AppError's Message reaches the client. Causes, SQL text and
// account ids stay in the log.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, errorType := errorStatus(err)

	switch {
	case status >= 500 && status != http.StatusServiceUnavailable:
		logger.Error("request failed", slog.String("kind", apperror.Kind(err)), slog.String("error", err.Error()))
	case status == http.StatusServiceUnavailable:
		logger.Warn("dependency unavailable", slog.String("error", err.Error()))
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// NEVER expose raw error text; it may carry SQL or internal ids.
		writeJSON(w, status, ErrorResponse{Error: errorType, Message: genericMessage})
		return
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields and trailing data are rejected as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("", fmt.Sprintf("request body must be %d bytes or fewer", maxBodyBytes))
		}
		return apperror.ValidationFailed("", "invalid JSON body")
	}
	if dec.More() {
		return apperror.ValidationFailed("", "request body must contain a single JSON object")
	}
	return nil
}
