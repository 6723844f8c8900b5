package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/gateway"
	"github.com/ternarybob/gantry/internal/interfaces"
)

// ViewHandler proxies output artifacts from workers.
type ViewHandler struct {
	service *gateway.Service
}

func NewViewHandler(service *gateway.Service) *ViewHandler {
	return &ViewHandler{service: service}
}

// Get serves GET /api/view. The worker is chosen by the worker_id query
// parameter, or looked up from the prompt_id when given; the remaining
// query string is forwarded verbatim and the response streamed through.
func (h *ViewHandler) Get(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	workerID := query.Get("worker_id")
	promptID := query.Get("prompt_id")

	worker, err := h.service.ResolveViewWorker(r.Context(), workerID, promptID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "worker not found for view request")
			return
		}
		WriteStoreError(w, err)
		return
	}

	// The worker does not understand gateway-only parameters.
	query.Del("worker_id")
	query.Del("prompt_id")

	creds := h.service.CredentialsFor(r.Context(), worker)
	if _, err := h.service.Client().ProxyView(r.Context(), worker, creds, query.Encode(), w); err != nil {
		// Headers may already be written; just log.
		common.GetLogger().Warn().Err(err).Str("worker_id", worker.WorkerID).Msg("View proxy failed")
	}
}
