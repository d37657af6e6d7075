//
//
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/radio-control/tracker/internal/command"
	"github.com/radio-control/tracker/internal/radio"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// API error codes for transport/security/lookup conditions
var (
	ErrBadRequest        = errors.New("BAD_REQUEST")
	ErrUnauthorizedError = errors.New("UNAUTHORIZED")
	ErrForbiddenError    = errors.New("FORBIDDEN")
	ErrNotFoundError     = errors.New("NOT_FOUND")
)

// errorMapping is one row of the core error table.
type errorMapping struct {
	err     error
	code    string
	status  int
	message string
}

// coreErrors maps manager and orchestrator errors onto the envelope, most
// specific first.
var coreErrors = []errorMapping{
	{radio.ErrInvalidFrequency, "INVALID_RANGE", http.StatusBadRequest, "Frequency is outside the radio band"},
	{command.ErrInvalidParameter, "BAD_REQUEST", http.StatusBadRequest, "Malformed or missing required parameter"},
	{ErrBadRequest, "BAD_REQUEST", http.StatusBadRequest, "Malformed request"},
	{radio.ErrInvalidUnit, "NOT_FOUND", http.StatusNotFound, "Radio not found"},
	{ErrNotFoundError, "NOT_FOUND", http.StatusNotFound, "Resource not found"},
	{radio.ErrTimeout, "BUSY", http.StatusServiceUnavailable, "Radio busy, retry with backoff"},
	{radio.ErrTaskInUse, "BUSY", http.StatusServiceUnavailable, "Radio busy, retry with backoff"},
	{context.DeadlineExceeded, "BUSY", http.StatusServiceUnavailable, "Command timed out"},
	{radio.ErrTerminated, "UNAVAILABLE", http.StatusServiceUnavailable, "Radio manager is shutting down"},
	{radio.ErrAborted, "UNAVAILABLE", http.StatusServiceUnavailable, "Radio manager is shutting down"},
	{radio.ErrSessionOpen, "INVALID_STATE", http.StatusConflict, "Receive session already open"},
	{radio.ErrNoSession, "INVALID_STATE", http.StatusConflict, "No receive session open"},
	{radio.ErrSendRejected, "REJECTED", http.StatusUnprocessableEntity, "Radio rejected the transmission"},
	{ErrUnauthorizedError, "UNAUTHORIZED", http.StatusUnauthorized, "Authentication required"},
	{ErrForbiddenError, "FORBIDDEN", http.StatusForbidden, "Insufficient permissions"},
}

// ToAPIError converts an error to an API error with HTTP status code and JSON body.
func ToAPIError(err error) (int, []byte) {
	if err == nil {
		return http.StatusOK, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, marshalErrorResponse(apiErr.Code, apiErr.Message, apiErr.Details)
	}

	for _, m := range coreErrors {
		if errors.Is(err, m.err) {
			return m.status, marshalErrorResponse(m.code, m.message, map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return http.StatusInternalServerError, marshalErrorResponse("INTERNAL", "Internal server error", map[string]interface{}{
		"original": err.Error(),
	})
}

// writeAPIError writes err through ToAPIError.
func writeAPIError(w http.ResponseWriter, err error) {
	status, body := ToAPIError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// marshalErrorResponse creates a JSON error response with correlation ID.
func marshalErrorResponse(code, message string, details interface{}) []byte {
	response := Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: generateCorrelationID(),
	}

	jsonBytes, err := json.Marshal(response)
	if err != nil {
		fallback := map[string]interface{}{
			"result":        "error",
			"code":          "INTERNAL",
			"message":       "Failed to marshal error response",
			"correlationId": generateCorrelationID(),
		}
		jsonBytes, _ := json.Marshal(fallback)
		return jsonBytes
	}
	return jsonBytes
}

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
