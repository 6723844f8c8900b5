package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ternarybob/gantry/internal/gateway"
)

// PromptHandler serves POST /api/prompt: prompt submission, direct or via
// the priority queue.
type PromptHandler struct {
	service *gateway.Service
}

func NewPromptHandler(service *gateway.Service) *PromptHandler {
	return &PromptHandler{service: service}
}

// promptEnvelope is the subset of the submission body the gateway
// inspects. The full body passes through to the worker untouched.
type promptEnvelope struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
	Priority *int            `json:"priority"`
}

// Submit routes a prompt. A priority field queues the job durably and
// returns a gateway job id; without one the job goes straight to the best
// worker and the worker's response passes through byte-identical.
func (h *PromptHandler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var envelope promptEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(envelope.Prompt) == 0 {
		WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	if envelope.Priority != nil {
		gatewayJobID, err := h.service.SubmitPriority(r.Context(), body, envelope.ClientID, *envelope.Priority)
		if err != nil {
			WriteStoreError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"gateway_job_id": gatewayJobID,
			"status":         "queued",
		})
		return
	}

	result, err := h.service.SubmitDirect(r.Context(), body)
	if err != nil {
		if errors.Is(err, gateway.ErrNoWorkersAvailable) {
			WriteError(w, http.StatusServiceUnavailable, "no workers available")
			return
		}
		WriteStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}
