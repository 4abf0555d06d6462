package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// ErrDomainExists is returned when the hub already holds a live endpoint
// for the requested bridge id and domain.
var ErrDomainExists = errors.New("sandbox: domain already running for this bridge")

// DomainOptions configures one JavaScript domain.
type DomainOptions struct {
	BridgeID    bridge.BridgeID
	Domain      bridge.Domain
	Proxies     bool
	CallTimeout time.Duration
	IDs         id.Source
	Config      Config

	// Hub guards against a second endpoint for the same id and domain.
	// Defaults to bridge.DefaultHub().
	Hub *bridge.Hub

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Domain is one execution world: a runtime with a bridge object wired to
// its endpoint.
type Domain struct {
	name     bridge.Domain
	runtime  *Runtime
	binding  *Binding
	endpoint *bridge.Endpoint

	cancel context.CancelFunc
	once   sync.Once
}

// NewDomain boots a runtime, installs the bridge object and connects it to
// ch. The domain lives until Close or until ctx is cancelled.
func NewDomain(ctx context.Context, ch channel.Channel, opts DomainOptions) (*Domain, error) {
	logger := logging.OrNop(opts.Logger)
	hub := opts.Hub
	if hub == nil {
		hub = bridge.DefaultHub()
	}

	rt, err := New(opts.Config, logger.Named("sandbox").With(zap.String("domain", opts.Domain.String())))
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	dctx, cancel := context.WithCancel(ctx)
	binding, err := Bind(dctx, rt, opts.BridgeID, opts.Domain)
	if err != nil {
		cancel()
		rt.Close()
		return nil, fmt.Errorf("bind bridge: %w", err)
	}

	ep, created, err := hub.GetOrCreate(dctx, ch, bridge.Options{
		BridgeID:    opts.BridgeID,
		Domain:      opts.Domain,
		Proxies:     opts.Proxies,
		CallTimeout: opts.CallTimeout,
		IDs:         opts.IDs,
		Logger:      logger,
		Metrics:     opts.Metrics,
		OnProxy:     binding.InstallProxy,
	})
	if err == nil && !created {
		err = ErrDomainExists
	}
	if err != nil {
		cancel()
		rt.Close()
		return nil, err
	}
	binding.Attach(ep)

	return &Domain{
		name:     opts.Domain,
		runtime:  rt,
		binding:  binding,
		endpoint: ep,
		cancel:   cancel,
	}, nil
}

// Name returns ISOLATED or MAIN.
func (d *Domain) Name() bridge.Domain { return d.name }

// Endpoint returns the domain's bridge endpoint.
func (d *Domain) Endpoint() *bridge.Endpoint { return d.endpoint }

// Runtime returns the domain's JavaScript runtime.
func (d *Domain) Runtime() *Runtime { return d.runtime }

// Execute runs script in the domain.
func (d *Domain) Execute(ctx context.Context, script string) (*Result, error) {
	return d.runtime.Execute(ctx, script)
}

// Load runs a named script, typically a content script from a manifest.
func (d *Domain) Load(ctx context.Context, name, script string) error {
	if _, err := d.runtime.Execute(ctx, script); err != nil {
		return fmt.Errorf("load %s into %s: %w", name, d.name, err)
	}
	return nil
}

// Close tears down the endpoint and stops the runtime.
func (d *Domain) Close() error {
	var err error
	d.once.Do(func() {
		d.cancel()
		select {
		case <-d.endpoint.Done():
		case <-time.After(time.Second):
		}
		err = d.runtime.Close()
	})
	return err
}
