package handlers

import (
	"net/http"
	"strconv"

	"github.com/ternarybob/gantry/internal/gateway"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/models"
)

// TaskHandler serves task status and history listing endpoints.
type TaskHandler struct {
	service *gateway.Service
}

func NewTaskHandler(service *gateway.Service) *TaskHandler {
	return &TaskHandler{service: service}
}

// Status serves GET /api/task/{prompt_id}/status, reconciling the record
// against the worker when it is still in flight.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("prompt_id")
	if promptID == "" {
		WriteError(w, http.StatusBadRequest, "prompt_id is required")
		return
	}
	task, err := h.service.TaskStatus(r.Context(), promptID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// GatewayStatus serves GET /api/task/gateway/{gateway_job_id}.
func (h *TaskHandler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	gatewayJobID := r.PathValue("gateway_job_id")
	if gatewayJobID == "" {
		WriteError(w, http.StatusBadRequest, "gateway_job_id is required")
		return
	}
	task, err := h.service.GatewayJobStatus(r.Context(), gatewayJobID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// Detail serves GET /api/tasks/{task_id}. The id may be either a gateway
// job id or a worker prompt id.
func (h *TaskHandler) Detail(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	task, err := h.service.History().Get(r.Context(), taskID)
	if err != nil {
		task, err = h.service.History().GetByPromptID(r.Context(), taskID)
	}
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// List serves GET /api/tasks with status, worker, and paging filters.
// In-flight records are reconciled against their workers before the page
// is served.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := interfaces.TaskListOptions{
		Status:   models.TaskStatus(r.URL.Query().Get("status")),
		WorkerID: r.URL.Query().Get("worker_id"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	tasks, err := h.service.ListTasks(r.Context(), opts)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*models.TaskRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
