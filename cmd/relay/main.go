package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/config"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/relay"
)

func main() {
	cfg := config.LoadOrDefault()

	host := flag.String("host", cfg.Relay.Host, "Listen host")
	port := flag.String("port", cfg.Relay.Port, "Listen port")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode")
	flag.Parse()

	cfg.Relay.Host = *host
	cfg.Relay.Port = *port

	logger := logging.FromLevel(cfg.Logging.Level, *dev)
	defer logger.Sync()

	relayCfg := relay.DefaultConfig()
	relayCfg.Addr = cfg.Relay.Addr()
	relayCfg.Development = *dev
	relayCfg.EnableRateLimit = cfg.Relay.RateLimit.Enabled
	relayCfg.RateLimit.RequestsPerSecond = cfg.Relay.RateLimit.RequestsPerSecond
	relayCfg.RateLimit.Burst = cfg.Relay.RateLimit.Burst

	srv := relay.NewServer(relayCfg, logger.Logger, monitoring.NewMetrics())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Relay error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Relay stopped")
}
