// Package server owns the HTTP surface of the gateway.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/gateway"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/settings"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// Server hosts the gateway API.
type Server struct {
	config   *common.Config
	service  *gateway.Service
	registry *registry.Registry
	settings *settings.Service
	client   *workerclient.Client
	http     *http.Server
	log      arbor.ILogger
}

func New(
	config *common.Config,
	service *gateway.Service,
	reg *registry.Registry,
	settingsService *settings.Service,
	client *workerclient.Client,
) *Server {
	return &Server{
		config:   config,
		service:  service,
		registry: reg,
		settings: settingsService,
		client:   client,
		log:      common.GetLogger(),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := recoveryMiddleware(corsMiddleware(loggingMiddleware(mux)))
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.http = &http.Server{
		Addr:    addr,
		Handler: handler,
		// No write timeout: /api/view streams large artifacts and the
		// worker request timeout already bounds upstream reads.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	common.SafeGo(s.log, "http-server", func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Fatal().Err(err).Msg("HTTP server failed")
		}
	})
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
