package handlers

import (
	"net/http"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/gateway"
)

// APIHandler serves the meta endpoints: health, version, gateway status.
type APIHandler struct {
	service *gateway.Service
}

func NewAPIHandler(service *gateway.Service) *APIHandler {
	return &APIHandler{service: service}
}

// Health serves GET /api/health: a liveness check for the gateway process
// itself, independent of worker state.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// Version serves GET /api/version.
func (h *APIHandler) Version(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// Status serves GET /api/status: fleet summary, queue depth, and process
// details.
func (h *APIHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.service.Status(r.Context()))
}
