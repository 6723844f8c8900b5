package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/gantry/internal/app"
	"github.com/ternarybob/gantry/internal/common"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	port := flag.Int("port", 0, "override server port")
	host := flag.String("host", "", "override server host")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(common.GetFullVersion())
		return
	}

	config, err := common.LoadFromFiles(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, *port, *host)

	log := common.SetupLogger(config)
	common.PrintBanner(common.GetVersion())

	application, err := app.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start gateway")
	}

	log.Info().
		Str("version", common.GetVersion()).
		Str("environment", config.Environment).
		Int("port", config.Server.Port).
		Msg("Gateway running")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	application.Stop(context.Background())
}
