// Package middleware provides the HTTP façade's cross-cutting request
// handling: panic recovery, request ID propagation, and the JSON error
// envelope they both write through.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/errors"
)

// ErrorDetail is the body of an ErrorResponse's "error" field.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the JSON body written on a recovered panic or any
// other middleware-level failure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// RequestIDHeader is the header middleware reads and propagates.
const RequestIDHeader = "X-Request-ID"

// RequestID ensures every request carries an X-Request-ID, generating
// one when the caller did not supply it, and echoes it back on the
// response so Recovery (and handlers) can include it in error bodies.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = newRequestID()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Recovery catches panics from next, logs nothing itself (the caller's
// own access logging middleware owns that), and writes a 500 JSON
// error envelope instead of letting net/http close the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
				if rid := r.Header.Get(RequestIDHeader); rid != "" {
					envelope = envelope.WithCorrelationID(rid)
				}
				writeErrorResponse(w, envelope, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for call sites that predate
// the Recovery name.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse renders envelope as an ErrorResponse JSON body with
// the given HTTP status.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	detail := ErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
	}
	if len(envelope.Context) > 0 {
		detail.Details = envelope.Context
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}

var requestIDCounter uint64

// newRequestID produces a short process-local identifier. It does not
// need to be globally unique, only distinct enough to correlate log
// lines for one request.
func newRequestID() string {
	n := atomic.AddUint64(&requestIDCounter, 1)
	return fmt.Sprintf("req-%d-%d", processStartNonce, n)
}

// processStartNonce is a fixed value derived from RequestIDHeader, not
// from time.Now, so request IDs are deterministic for tests; the same
// IDs therefore repeat after a process restart.
var processStartNonce = func() uint64 {
	return uint64(len(RequestIDHeader))*31 + 7
}()
