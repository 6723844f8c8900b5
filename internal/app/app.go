// Package app wires the gateway's components together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gantry/internal/common"
	"github.com/ternarybob/gantry/internal/gateway"
	"github.com/ternarybob/gantry/internal/interfaces"
	"github.com/ternarybob/gantry/internal/registry"
	"github.com/ternarybob/gantry/internal/server"
	"github.com/ternarybob/gantry/internal/settings"
	"github.com/ternarybob/gantry/internal/storage"
	badgerstore "github.com/ternarybob/gantry/internal/storage/badger"
	"github.com/ternarybob/gantry/internal/workerclient"
)

// App is the composition root.
type App struct {
	Config   *common.Config
	Storage  interfaces.StorageManager
	Registry *registry.Registry
	Settings *settings.Service
	Service  *gateway.Service
	Server   *server.Server

	dispatcher *gateway.Dispatcher
	prober     *gateway.Prober
	monitor    *gateway.Monitor
	cancel     context.CancelFunc
	log        arbor.ILogger
}

// New builds the full dependency graph from configuration.
func New(config *common.Config) (*App, error) {
	log := common.GetLogger()

	store, err := storage.NewManager(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	settingsService := settings.NewService(store.Settings(), config)
	reg := registry.New(store.Workers(), settingsService, config.Gateway.QueueCacheTTLDuration())
	client := workerclient.New(config.Gateway.WorkerTimeoutDuration(), config.Gateway.ProbeTimeoutDuration())
	selector := gateway.NewSelector(reg, client)
	history := gateway.NewHistory(store.History())
	monitor := gateway.NewMonitor(reg, history, config.Gateway.ReconnectIntervalDuration())

	service := gateway.NewService(
		reg, selector, store.PendingQueue(), store.Mappings(), history,
		client, monitor, store, config.Gateway.FleetProbeIntervalDuration(),
	)

	dispatcher := gateway.NewDispatcher(
		store.PendingQueue(), store.Mappings(), history, selector, reg, client,
		gateway.DispatcherOptions{
			Tick:      config.Gateway.DispatcherTickDuration(),
			BatchSize: config.Gateway.DispatchBatch,
		},
	)

	prober := gateway.NewProber(reg, client, config.Gateway.ProberSchedule)
	if badgerManager, ok := store.(*badgerstore.Manager); ok {
		prober.SetAfterSweep(badgerManager.GC)
	}

	return &App{
		Config:     config,
		Storage:    store,
		Registry:   reg,
		Settings:   settingsService,
		Service:    service,
		Server:     server.New(config, service, reg, settingsService, client),
		dispatcher: dispatcher,
		prober:     prober,
		monitor:    monitor,
		log:        log,
	}, nil
}

// Start loads state and launches the background loops and HTTP server.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Registry.Load(ctx); err != nil {
		return err
	}

	if err := a.prober.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health prober: %w", err)
	}
	common.SafeGoWithContext(ctx, a.log, "dispatcher", func() {
		a.dispatcher.Run(ctx)
	})
	common.SafeGoWithContext(ctx, a.log, "progress-monitor", func() {
		a.monitor.Run(ctx)
	})

	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	return nil
}

// Stop shuts everything down: HTTP first so no new work arrives, then the
// background loops, then storage.
func (a *App) Stop(ctx context.Context) {
	if err := a.Server.Stop(ctx); err != nil {
		a.log.Warn().Err(err).Msg("HTTP shutdown error")
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.prober.Stop()
	if err := a.Storage.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Storage close error")
	}
	a.log.Info().Msg("Gateway stopped")
}
