package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
	"github.com/GriffinCanCode/terabithia/internal/host"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/config"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/manifest"
)

func main() {
	cfg := config.LoadOrDefault()

	manifestPath := flag.String("manifest", "manifest.yaml", "Extension manifest (json, yaml or toml)")
	transport := flag.String("transport", cfg.Transport.Kind, "Transport: memory, ws or redis")
	relayURL := flag.String("relay", cfg.Transport.RelayURL, "Relay WebSocket URL")
	redisAddr := flag.String("redis", cfg.Transport.RedisAddr, "Redis address or redis:// URL")
	tab := flag.String("tab", cfg.Transport.TabID, "Tab id shared by both worlds")
	world := flag.String("world", "ISOLATED", "World hosted by this process (ws and redis transports)")
	pageURL := flag.String("url", "", "Page URL used to select content scripts")
	record := flag.String("record", "", "Record every frame to this zstd file")
	logLevel := flag.String("log-level", cfg.Logging.Level, "Log level")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Transport.Kind = *transport
	cfg.Transport.RelayURL = *relayURL
	cfg.Transport.RedisAddr = *redisAddr
	cfg.Transport.TabID = *tab

	logger := logging.FromLevel(*logLevel, *dev)
	defer logger.Sync()

	if err := run(cfg, logger.Logger, *manifestPath, *world, *pageURL, *record); err != nil {
		logger.Error("terabithia failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, manifestPath, world, pageURL, record string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	d, err := bridge.ParseDomain(world)
	if err != nil {
		return fmt.Errorf("-world: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := host.New(ctx, host.Options{
		Config:     cfg,
		Manifest:   m,
		PageURL:    pageURL,
		World:      d,
		RecordPath: record,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	runErr := h.Run(ctx)
	if runErr == nil {
		logger.Info("Shutting down gracefully...")
	}
	closeErr := h.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}
