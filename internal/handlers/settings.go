package handlers

import (
	"net/http"

	"github.com/ternarybob/gantry/internal/settings"
)

// SettingsHandler serves gateway settings endpoints.
type SettingsHandler struct {
	settings *settings.Service
}

func NewSettingsHandler(service *settings.Service) *SettingsHandler {
	return &SettingsHandler{settings: service}
}

// Get serves GET /api/settings. Passwords are never returned, only
// whether one is set.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.settings.View(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

type settingsRequest struct {
	WorkerAuthUsername string `json:"worker_auth_username"`
	WorkerAuthPassword string `json:"worker_auth_password"`
}

// Update serves PUT /api/settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.settings.SetGlobalWorkerAuth(r.Context(), req.WorkerAuthUsername, req.WorkerAuthPassword); err != nil {
		WriteStoreError(w, err)
		return
	}
	view, err := h.settings.View(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}
