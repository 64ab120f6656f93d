// Package errors adapts the pkg/bioerr taxonomy (and plain Go errors) to
// the HTTP façade's JSON error envelope.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3leaps/bioindex/pkg/bioerr"
)

// HTTPError is the body of an error response's "error" field.
type HTTPError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the full JSON body written on a non-2xx response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// NotFound, MethodNotAllowed are synthesized by the router itself (no
// underlying bioerr.Error), so they carry their own stable codes.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
	CodeServiceUnavail   = "SERVICE_UNAVAILABLE"
)

// StatusAndCode maps err to the HTTP status and machine code the façade
// should report: user-input errors → 400; UnknownIndex → 404;
// ExpiredToken / InvalidToken → 410; storage errors → 502; anything
// else → 500.
func StatusAndCode(err error) (int, string) {
	var bioErr *bioerr.Error
	if errors.As(err, &bioErr) {
		return bioerr.HTTPStatus(bioErr.Code), string(bioErr.Code)
	}
	return http.StatusInternalServerError, CodeInternal
}

// RespondWithError writes err as a JSON HTTPErrorResponse with the
// status derived from StatusAndCode. It is the default responder wired
// into internal/server/handlers unless overridden.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusAndCode(err)
	resp := HTTPErrorResponse{Error: HTTPError{Code: code, Message: err.Error()}}
	if rid := r.Header.Get("X-Request-ID"); rid != "" {
		resp.Error.RequestID = rid
	}
	WriteJSON(w, status, resp)
}

// WriteJSON writes v as a JSON response body with the given status,
// setting Content-Type first so handlers never need to repeat it.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
