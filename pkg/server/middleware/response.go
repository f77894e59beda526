package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Error codes returned in ErrorResponse. Denial codes match the gateway
// decision reasons.
const (
	CodeRateLimited         = "rate_limited"
	CodeInsufficientCredits = "insufficient_credits"
	CodeUnavailable         = "unavailable"
	CodeUnauthorized        = "unauthorized"
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeTooManyInFlight     = "too_many_in_flight"
	CodeInternal            = "internal_error"
)

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine readable code, a human readable message
// and, for denials, a retry hint in seconds.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// WriteJSON writes body as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError writes an ErrorResponse. A positive retryAfter also sets the
// Retry-After header.
func WriteError(w http.ResponseWriter, code int, errCode, message string, retryAfter int64) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	}
	WriteJSON(w, code, ErrorResponse{
		Error: ErrorDetail{
			Code:       errCode,
			Message:    message,
			RetryAfter: retryAfter,
		},
	})
}
