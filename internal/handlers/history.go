package handlers

import (
	"net/http"

	"github.com/ternarybob/gantry/internal/gateway"
)

// HistoryHandler serves task results with gateway view URLs injected.
type HistoryHandler struct {
	service *gateway.Service
}

func NewHistoryHandler(service *gateway.Service) *HistoryHandler {
	return &HistoryHandler{service: service}
}

// Get serves GET /api/history/{task_id}: the task record plus the worker's
// history entry for it, with image outputs rewritten to gateway view URLs.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	task, result, err := h.service.TaskResult(r.Context(), taskID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	response := map[string]any{"task": task}
	if len(result) > 0 {
		response["result"] = result
	}
	WriteJSON(w, http.StatusOK, response)
}
