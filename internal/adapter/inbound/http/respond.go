package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/codetutor/tutorgate/internal/domain/ratelimit"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Error bodies. They never say which check failed.
const (
	errUnauthorized   = "unauthorized"
	errReauthenticate = "reauthenticate"
	errForbidden      = "forbidden"
	errUnavailable    = "service unavailable"
)

// errorResponse is the body of every non-rate-limit error.
type errorResponse struct {
	Error string `json:"error"`
}

// limitResponse is the body of a 429.
type limitResponse struct {
	ErrorCode         ratelimit.Code `json:"error_code"`
	RetryAfterSeconds int            `json:"retry_after_seconds,omitempty"`
}

// respondJSON writes a JSON response with the given status code and data.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		LoggerFromContext(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes {"error": message}.
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	respondJSON(w, r, status, errorResponse{Error: message})
}

// respondLimit writes a 429 with a Retry-After header.
func respondLimit(w http.ResponseWriter, r *http.Request, le *ratelimit.LimitError) {
	secs := le.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondJSON(w, r, http.StatusTooManyRequests, limitResponse{ErrorCode: le.Code, RetryAfterSeconds: secs})
}

// readJSON decodes a bounded request body into v, rejecting unknown fields
// and trailing data.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
