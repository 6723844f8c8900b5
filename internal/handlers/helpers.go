// Package handlers contains the HTTP handlers for the gateway API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/interfaces"
)

// validate checks request payload structs; shared across handlers.
var validate = validator.New()

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		common.GetLogger().Error().Err(err).Msg("Failed to encode response")
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteStoreError maps storage errors onto HTTP responses.
func WriteStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, interfaces.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}
	common.GetLogger().Error().Err(err).Msg("Request failed")
	WriteError(w, http.StatusInternalServerError, "internal error")
}

// DecodeJSON decodes and validates a request body into dst. Returns false
// after writing the error response when the payload is invalid.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}
