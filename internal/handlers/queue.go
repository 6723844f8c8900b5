package handlers

import (
	"net/http"

	"github.com/ternarybob/gantry/internal/gateway"
)

// QueueHandler serves the aggregated fleet queue view.
type QueueHandler struct {
	service *gateway.Service
}

func NewQueueHandler(service *gateway.Service) *QueueHandler {
	return &QueueHandler{service: service}
}

// Get serves GET /api/queue.
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	fleet, err := h.service.FleetQueueView(r.Context())
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, fleet)
}
