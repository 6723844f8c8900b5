package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/gantry/internal/gateway"
	"github.com/ternarybob/gantry/internal/models"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// WorkerHandler serves worker fleet management endpoints.
type WorkerHandler struct {
	registry *registry.Registry
	service  *gateway.Service
	client   *workerclient.Client
}

func NewWorkerHandler(reg *registry.Registry, service *gateway.Service, client *workerclient.Client) *WorkerHandler {
	return &WorkerHandler{registry: reg, service: service, client: client}
}

// workerRequest is the create/update payload. Credentials are optional;
// empty values fall back to the global worker auth.
type workerRequest struct {
	URL          string `json:"url" validate:"required,url"`
	Name         string `json:"name"`
	Weight       int    `json:"weight" validate:"gte=0,lte=1000"`
	Enabled      *bool  `json:"enabled"`
	AuthUsername string `json:"auth_username"`
	AuthPassword string `json:"auth_password"`
	SkipHealth   bool   `json:"skip_health"`
}

func (req *workerRequest) toWorker(workerID string) *models.WorkerInfo {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &models.WorkerInfo{
		WorkerID:     workerID,
		URL:          req.URL,
		Name:         req.Name,
		Weight:       req.Weight,
		Enabled:      enabled,
		AuthUsername: req.AuthUsername,
		AuthPassword: req.AuthPassword,
	}
}

// workerView redacts credentials in API responses.
func workerView(worker *models.WorkerInfo) map[string]any {
	return map[string]any{
		"worker_id":     worker.WorkerID,
		"url":           worker.URL,
		"name":          worker.Name,
		"weight":        worker.Weight,
		"enabled":       worker.Enabled,
		"healthy":       worker.Healthy,
		"queue_running": worker.QueueRunning,
		"queue_pending": worker.QueuePending,
		"has_auth":      worker.AuthUsername != "",
	}
}

// List serves GET /api/workers.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	workers := h.registry.List()
	views := make([]map[string]any, 0, len(workers))
	for _, worker := range workers {
		views = append(views, workerView(worker))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"workers": views,
		"count":   len(views),
	})
}

// Get serves GET /api/workers/{worker_id}.
func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	worker, err := h.registry.Get(r.PathValue("worker_id"))
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, workerView(worker))
}

// Create serves POST /api/workers.
func (h *WorkerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	worker := req.toWorker("")
	if !req.SkipHealth {
		creds := h.service.CredentialsFor(r.Context(), worker)
		result := h.client.HealthProbe(r.Context(), worker, creds)
		if !result.Healthy {
			WriteError(w, http.StatusBadRequest, "worker is unreachable: "+result.Detail)
			return
		}
		worker.Healthy = true
	}
	if err := h.registry.Add(r.Context(), worker); err != nil {
		if errors.Is(err, registry.ErrDuplicateURL) {
			WriteError(w, http.StatusConflict, "worker url already registered")
			return
		}
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, workerView(worker))
}

// Update serves PUT /api/workers/{worker_id}.
func (h *WorkerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	worker := req.toWorker(r.PathValue("worker_id"))
	if err := h.registry.Update(r.Context(), worker); err != nil {
		if errors.Is(err, registry.ErrDuplicateURL) {
			WriteError(w, http.StatusConflict, "worker url already registered")
			return
		}
		WriteStoreError(w, err)
		return
	}
	updated, err := h.registry.Get(worker.WorkerID)
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, workerView(updated))
}

// Delete serves DELETE /api/workers/{worker_id}.
func (h *WorkerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(r.Context(), r.PathValue("worker_id")); err != nil {
		WriteStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Probe serves POST /api/workers/{worker_id}/probe: an on-demand health
// check that also refreshes the load cache.
func (h *WorkerHandler) Probe(w http.ResponseWriter, r *http.Request) {
	worker, err := h.registry.Get(r.PathValue("worker_id"))
	if err != nil {
		WriteStoreError(w, err)
		return
	}
	creds := h.service.CredentialsFor(r.Context(), worker)
	queue, err := h.client.FetchQueue(r.Context(), worker, creds)
	if err != nil {
		result := h.client.HealthProbe(r.Context(), worker, creds)
		if !result.Healthy {
			h.registry.MarkUnhealthy(worker.WorkerID)
			WriteJSON(w, http.StatusOK, map[string]any{
				"worker_id": worker.WorkerID,
				"healthy":   false,
				"detail":    result.Detail,
			})
			return
		}
		h.registry.UpdateLoad(worker.WorkerID, worker.QueueRunning, worker.QueuePending, true)
		WriteJSON(w, http.StatusOK, map[string]any{
			"worker_id": worker.WorkerID,
			"healthy":   true,
			"detail":    result.Detail,
		})
		return
	}
	running, pending := queue.Counts()
	h.registry.UpdateLoad(worker.WorkerID, running, pending, true)
	WriteJSON(w, http.StatusOK, map[string]any{
		"worker_id":     worker.WorkerID,
		"healthy":       true,
		"queue_running": running,
		"queue_pending": pending,
	})
}
