package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/resilience"
)

// Envelope is the standard response shape for every non-raw endpoint.
type Envelope struct {
	Success    bool       `json:"success"`
	StatusCode int        `json:"statusCode"`
	Message    string     `json:"message"`
	Data       any        `json:"data,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	Timestamp  string     `json:"timestamp"`
	Path       string     `json:"path"`
}

// ErrorBody carries machine-readable failure detail inside the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func envelope(r *http.Request, code int, message string) Envelope {
	return Envelope{
		Success:    code < 400,
		StatusCode: code,
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.Path,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, message string, data any) {
	env := envelope(r, code, message)
	env.Data = data
	writeEnvelope(w, code, env)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	writeErrorDetails(w, r, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, code int, message string, details any) {
	env := envelope(r, code, message)
	env.Error = &ErrorBody{
		Code:    http.StatusText(code),
		Message: message,
		Details: details,
	}
	writeEnvelope(w, code, env)
}

func writeEnvelope(w http.ResponseWriter, code int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}

// decodeJSON reads a JSON body into dst, rejecting oversized and malformed
// payloads with a caller-friendly error.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("malformed JSON body")
	}
	return nil
}

// writeAuthError maps the auth package's sentinel errors onto HTTP codes.
// Timeouts and connection failures from the storage layer answer 503 so the
// breaker counts them; everything else unrecognized becomes an opaque 500.
// Either way the underlying detail reaches the log, never the client.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, trimSentinel(err))
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, trimSentinel(err))
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient role")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, trimSentinel(err))
	case resilience.TransientError(err):
		obs.LogEvent("error", "storage_unavailable", map[string]any{
			"request_id": requestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		obs.LogEvent("error", "internal_error", map[string]any{
			"request_id": requestIDFrom(r.Context()),
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// trimSentinel strips the "auth: " prefix from wrapped sentinel messages so
// envelopes read naturally.
func trimSentinel(err error) string {
	msg := err.Error()
	const prefix = "auth: "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}
