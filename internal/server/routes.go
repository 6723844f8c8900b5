package server

import (
	"net/http"

	"github.com/ternarybob/gantry/internal/handlers"
)

// registerRoutes wires the API endpoints onto the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	api := handlers.NewAPIHandler(s.service)
	prompt := handlers.NewPromptHandler(s.service)
	task := handlers.NewTaskHandler(s.service)
	queue := handlers.NewQueueHandler(s.service)
	worker := handlers.NewWorkerHandler(s.registry, s.service, s.client)
	settings := handlers.NewSettingsHandler(s.settings)
	history := handlers.NewHistoryHandler(s.service)
	view := handlers.NewViewHandler(s.service)

	// Meta
	mux.HandleFunc("GET /api/health", api.Health)
	mux.HandleFunc("GET /api/version", api.Version)
	mux.HandleFunc("GET /api/status", api.Status)

	// Submission and tracking
	mux.HandleFunc("POST /api/prompt", prompt.Submit)
	mux.HandleFunc("GET /api/task/{prompt_id}/status", task.Status)
	mux.HandleFunc("GET /api/task/gateway/{gateway_job_id}", task.GatewayStatus)
	mux.HandleFunc("GET /api/tasks", task.List)
	mux.HandleFunc("GET /api/tasks/{task_id}", task.Detail)
	mux.HandleFunc("GET /api/queue", queue.Get)
	mux.HandleFunc("GET /api/history/{task_id}", history.Get)
	mux.HandleFunc("GET /api/view", view.Get)

	// Fleet management
	mux.HandleFunc("GET /api/workers", worker.List)
	mux.HandleFunc("POST /api/workers", worker.Create)
	mux.HandleFunc("GET /api/workers/{worker_id}", worker.Get)
	mux.HandleFunc("PUT /api/workers/{worker_id}", worker.Update)
	mux.HandleFunc("DELETE /api/workers/{worker_id}", worker.Delete)
	mux.HandleFunc("POST /api/workers/{worker_id}/probe", worker.Probe)

	// Settings
	mux.HandleFunc("GET /api/settings", settings.Get)
	mux.HandleFunc("PUT /api/settings", settings.Update)
}
