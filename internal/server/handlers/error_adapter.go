package handlers

import (
	"net/http"

	apperrors "github.com/3leaps/bioindex/internal/errors"
)

// ErrorResponder writes err as an HTTP response for req.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// httpErrorResponder is the package-wide error responder used by
// respondWithError; tests swap it out to assert on handler error paths
// without depending on apperrors' concrete envelope shape.
var httpErrorResponder ErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder overrides the package-wide error responder. A
// nil responder resets to the default (apperrors.RespondWithError).
func SetHTTPErrorResponder(r ErrorResponder) {
	if r == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = r
}

// ResetHTTPErrorResponder restores the default error responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

// respondWithError routes err through the currently installed responder.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
