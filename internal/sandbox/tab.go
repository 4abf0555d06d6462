package sandbox

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// TabOptions configures a Tab.
type TabOptions struct {
	BridgeID    bridge.BridgeID
	Proxies     bool
	CallTimeout time.Duration
	IDs         id.Source
	Config      Config
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Tab hosts both domains of one page on a shared channel, the way a
// browser injects an extension's isolated and main world scripts into the
// same tab.
type Tab struct {
	ch       channel.Channel
	isolated *Domain
	main     *Domain
}

// NewTab boots the ISOLATED and MAIN domains on ch. The tab owns ch.
func NewTab(ctx context.Context, ch channel.Channel, opts TabOptions) (*Tab, error) {
	hub := bridge.NewHub(opts.Logger)

	domainOpts := func(d bridge.Domain) DomainOptions {
		return DomainOptions{
			BridgeID:    opts.BridgeID,
			Domain:      d,
			Proxies:     opts.Proxies,
			CallTimeout: opts.CallTimeout,
			IDs:         opts.IDs,
			Config:      opts.Config,
			Hub:         hub,
			Logger:      opts.Logger,
			Metrics:     opts.Metrics,
		}
	}

	isolated, err := NewDomain(ctx, ch, domainOpts(bridge.Isolated))
	if err != nil {
		return nil, err
	}
	main, err := NewDomain(ctx, ch, domainOpts(bridge.Main))
	if err != nil {
		return nil, multierr.Append(err, isolated.Close())
	}

	return &Tab{ch: ch, isolated: isolated, main: main}, nil
}

// Domain returns the domain with the given name, or nil.
func (t *Tab) Domain(d bridge.Domain) *Domain {
	switch d {
	case bridge.Isolated:
		return t.isolated
	case bridge.Main:
		return t.main
	}
	return nil
}

// Isolated returns the privileged domain.
func (t *Tab) Isolated() *Domain { return t.isolated }

// Main returns the page domain.
func (t *Tab) Main() *Domain { return t.main }

// Close shuts down both domains and the channel.
func (t *Tab) Close() error {
	return multierr.Combine(
		t.main.Close(),
		t.isolated.Close(),
		t.ch.Close(),
	)
}
