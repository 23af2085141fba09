// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/clipfeed/internal/feed/subscription"
	"github.com/ManuGH/clipfeed/internal/feed/surface"
	"github.com/ManuGH/clipfeed/internal/fsm"
)

// Problem is the JSON error body.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Problem{Code: code, Message: message})
}

// writeError maps domain errors onto HTTP problems.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, surface.ErrUnknownItem):
		writeProblem(w, http.StatusNotFound, "unknown_item", err.Error())
	case errors.Is(err, fsm.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, subscription.ErrInactive):
		writeProblem(w, http.StatusConflict, "surface_inactive", err.Error())
	case errors.Is(err, surface.ErrClosed):
		writeProblem(w, http.StatusServiceUnavailable, "surface_closed", err.Error())
	default:
		writeProblem(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeNotFound(w http.ResponseWriter, what string) {
	writeProblem(w, http.StatusNotFound, "not_found", what+" not found")
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusBadRequest, "bad_request", message)
}
