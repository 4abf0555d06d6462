package host

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/config"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/manifest"
	"github.com/GriffinCanCode/terabithia/internal/relay"
	"github.com/GriffinCanCode/terabithia/internal/sandbox"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportWS     = "ws"
	TransportRedis  = "redis"
)

// Options configures a Host.
type Options struct {
	Config   *config.Config
	Manifest *manifest.Manifest

	// PageURL selects content scripts by their match patterns. Empty loads
	// every script.
	PageURL string

	// World picks the single domain this process hosts on the ws and redis
	// transports. The memory transport always hosts both.
	World bridge.Domain

	// RecordPath, when set, writes every frame to a zstd NDJSON file.
	RecordPath string

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Host runs an extension's content scripts: it opens the transport, boots
// the domains the transport calls for and loads each world's scripts.
type Host struct {
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	ch       channel.Channel
	recorder *channel.Recorder
	file     *os.File
	tab      *sandbox.Tab
	domain   *sandbox.Domain
}

// New starts a host. Scripts are loaded before New returns.
func New(ctx context.Context, opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("host: manifest required")
	}
	logger := logging.OrNop(opts.Logger)
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}

	h := &Host{logger: logger, metrics: metrics}

	logger.Info("Starting extension host",
		zap.String("extension", opts.Manifest.Name),
		zap.String("bridge_id", opts.Manifest.BridgeID),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("tab", cfg.Transport.TabID),
	)

	scripts, err := selectScripts(opts.Manifest, opts.PageURL)
	if err != nil {
		return nil, err
	}

	ch, err := openChannel(ctx, cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	h.ch = ch

	if opts.RecordPath != "" {
		if err := h.record(ctx, opts.RecordPath); err != nil {
			return nil, multierr.Append(err, h.Close())
		}
	}

	sbCfg := sandbox.DefaultConfig()
	sbCfg.Timeout = cfg.Sandbox.Timeout
	sbCfg.EnableConsole = cfg.Sandbox.Console

	bridgeID := bridge.BridgeID(opts.Manifest.BridgeID)
	proxies := opts.Manifest.ProxiesEnabled(cfg.Bridge.Proxies)
	ids := id.NewSource(id.Format(cfg.Bridge.IDFormat))

	byWorld := manifest.ByWorld(scripts)

	if cfg.Transport.Kind == TransportMemory {
		tab, err := sandbox.NewTab(ctx, h.ch, sandbox.TabOptions{
			BridgeID:    bridgeID,
			Proxies:     proxies,
			CallTimeout: cfg.Bridge.CallTimeout,
			IDs:         ids,
			Config:      sbCfg,
			Logger:      logger,
			Metrics:     metrics,
		})
		if err != nil {
			return nil, multierr.Append(err, h.Close())
		}
		h.tab = tab

		for _, world := range []bridge.Domain{bridge.Isolated, bridge.Main} {
			if err := loadScripts(ctx, tab.Domain(world), byWorld[world], logger); err != nil {
				return nil, multierr.Append(err, h.Close())
			}
		}
		return h, nil
	}

	world := opts.World
	if world == "" {
		world = bridge.Isolated
	}
	d, err := sandbox.NewDomain(ctx, h.ch, sandbox.DomainOptions{
		BridgeID:    bridgeID,
		Domain:      world,
		Proxies:     proxies,
		CallTimeout: cfg.Bridge.CallTimeout,
		IDs:         ids,
		Config:      sbCfg,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, multierr.Append(err, h.Close())
	}
	h.domain = d

	if err := loadScripts(ctx, d, byWorld[world], logger); err != nil {
		return nil, multierr.Append(err, h.Close())
	}
	return h, nil
}

func selectScripts(m *manifest.Manifest, pageURL string) ([]manifest.Script, error) {
	if pageURL == "" {
		return m.Scripts()
	}
	return m.ScriptsFor(pageURL)
}

func loadScripts(ctx context.Context, d *sandbox.Domain, scripts []manifest.Script, logger *zap.Logger) error {
	for _, s := range scripts {
		if err := d.Load(ctx, s.Name, s.Source); err != nil {
			return err
		}
		logger.Debug("Loaded content script",
			zap.String("script", s.Name),
			zap.String("world", s.World.String()),
		)
	}
	return nil
}

// openChannel connects the configured transport.
func openChannel(ctx context.Context, cfg config.TransportConfig, logger *zap.Logger) (channel.Channel, error) {
	switch cfg.Kind {
	case TransportMemory, "":
		return channel.NewMemory(0), nil

	case TransportWS:
		client := relay.NewClient(cfg.RelayURL, relay.DefaultClientConfig())
		if err := client.WaitReady(ctx); err != nil {
			return nil, err
		}
		ws, err := channel.DialWebSocket(ctx, channel.RelayTabURL(cfg.RelayURL, cfg.TabID), channel.WebSocketOptions{
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to relay", zap.String("url", cfg.RelayURL))
		return ws, nil

	case TransportRedis:
		rd, err := channel.DialRedis(ctx, cfg.RedisAddr, channel.RedisTopic(cfg.RedisPrefix, cfg.TabID), logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to redis", zap.String("addr", cfg.RedisAddr))
		return rd, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
}

func (h *Host) record(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	rec, err := channel.NewRecorder(ctx, h.ch, f)
	if err != nil {
		return multierr.Append(fmt.Errorf("start recorder: %w", err), f.Close())
	}
	h.file = f
	h.recorder = rec
	h.ch = rec
	h.logger.Info("Recording frames", zap.String("path", path))
	return nil
}

// Domain returns a hosted domain, or nil when this host does not run it.
func (h *Host) Domain(d bridge.Domain) *sandbox.Domain {
	if h.tab != nil {
		return h.tab.Domain(d)
	}
	if h.domain != nil && h.domain.Name() == d {
		return h.domain
	}
	return nil
}

// Metrics returns the host's metrics.
func (h *Host) Metrics() *monitoring.Metrics { return h.metrics }

// Recorded returns the number of frames recorded, or 0 when not recording.
func (h *Host) Recorded() int {
	if h.recorder == nil {
		return 0
	}
	return h.recorder.Count()
}

// Run blocks until ctx is cancelled or the hosted endpoints are torn down.
func (h *Host) Run(ctx context.Context) error {
	var done <-chan struct{}
	switch {
	case h.tab != nil:
		done = h.tab.Isolated().Endpoint().Done()
	case h.domain != nil:
		done = h.domain.Endpoint().Done()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-done:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("bridge closed")
	}
}

// Close stops the domains and releases the transport.
func (h *Host) Close() error {
	h.logger.Info("Shutting down extension host...")
	start := time.Now()

	var err error
	if h.tab != nil {
		err = multierr.Append(err, h.tab.Close())
	} else {
		if h.domain != nil {
			err = multierr.Append(err, h.domain.Close())
		}
		if h.ch != nil {
			err = multierr.Append(err, h.ch.Close())
		}
	}
	if h.file != nil {
		err = multierr.Append(err, h.file.Close())
	}

	snap := h.metrics.Snapshot()
	h.logger.Info("Extension host stopped",
		zap.Int64("calls_completed", snap.CallsCompleted),
		zap.Int64("calls_failed", snap.CallsFailed),
		zap.Int("frames_recorded", h.Recorded()),
		zap.Duration("shutdown", time.Since(start)),
	)
	return err
}
