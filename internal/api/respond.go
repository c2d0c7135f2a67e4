package api

import (
	"encoding/json"
	"net/http"

	"github.com/healthdesk/scheduling-core/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps the scheduling error taxonomy onto HTTP statuses:
// validation 400, not found 404, conflicts and invalid transitions 409.
// Anything else is a 500 with a generic body.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case scheduling.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case scheduling.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case scheduling.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case scheduling.IsInvalidState(err):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
