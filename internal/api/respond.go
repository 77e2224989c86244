// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/library"
)

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, _ *http.Request, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondDomainError maps the shared error kinds onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		respondError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, library.ErrValidation):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, library.ErrConflict), errors.Is(err, audit.ErrNotUndoable):
		respondError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, library.ErrCancelled):
		respondError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody parses a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}
