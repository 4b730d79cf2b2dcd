package api

import (
	"net/http"

	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

// errorResponse is the {kind, message} shape spec 4.6 requires for
// requests that pass validation but violate an invariant.
type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor maps a stable error kind to an HTTP status, spec 7.
func statusFor(kind orcherr.Kind) int {
	switch kind {
	case orcherr.KindNotFound:
		return http.StatusNotFound
	case orcherr.KindValidation:
		return http.StatusBadRequest
	case orcherr.KindInvalidState:
		return http.StatusConflict
	case orcherr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a structured {kind, message} body. Errors not
// carrying a stable kind are reported generically without leaking detail.
func writeError(w http.ResponseWriter, err error) {
	kind := orcherr.KindOf(err)
	if kind == "" {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Kind: "internal-error", Message: "internal error"})
		return
	}
	writeJSON(w, statusFor(kind), errorResponse{Kind: string(kind), Message: err.Error()})
}
