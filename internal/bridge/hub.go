package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/channel"
)

type hubKey struct {
	id     BridgeID
	domain Domain
}

// Hub owns at most one live endpoint per bridge id and domain, the way a
// page holds one bridge object per extension.
type Hub struct {
	mu        sync.Mutex
	endpoints map[hubKey]*Endpoint
	base      *zap.Logger
	logger    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		endpoints: make(map[hubKey]*Endpoint),
		base:      logger,
		logger:    logger.Named("bridge"),
	}
}

var (
	defaultHub     *Hub
	defaultHubOnce sync.Once
)

// DefaultHub returns the process-wide hub.
func DefaultHub() *Hub {
	defaultHubOnce.Do(func() {
		defaultHub = NewHub(zap.L())
	})
	return defaultHub
}

// GetOrCreate returns the live endpoint for opts.BridgeID and opts.Domain,
// creating it if there is none. A second construction attempt is a
// lifecycle conflict: it is logged as an error and the existing endpoint
// is returned untouched with created=false. opts and ch are ignored in
// that case.
func (h *Hub) GetOrCreate(ctx context.Context, ch channel.Channel, opts Options) (*Endpoint, bool, error) {
	key := hubKey{id: opts.BridgeID, domain: opts.Domain}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.endpoints[key]; ok {
		select {
		case <-existing.Done():
			delete(h.endpoints, key)
		default:
			h.logger.Error(string(opts.BridgeID)+": TerabithiaBridge already exists for this Extension ID. "+
				"You are attempting to insert the TERABITHIA framework more than once or another extension is conflicting with yours.",
				zap.String("bridge_id", string(opts.BridgeID)),
				zap.String("domain", opts.Domain.String()))
			return existing, false, nil
		}
	}

	if opts.Logger == nil {
		opts.Logger = h.base
	}
	ep, err := New(ctx, ch, opts)
	if err != nil {
		return nil, false, err
	}
	h.endpoints[key] = ep

	go func() {
		<-ep.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.endpoints[key] == ep {
			delete(h.endpoints, key)
		}
	}()

	return ep, true, nil
}

// Lookup returns the live endpoint for id and domain.
func (h *Hub) Lookup(id BridgeID, domain Domain) (*Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.endpoints[hubKey{id: id, domain: domain}]
	return ep, ok
}

// Len returns the number of live endpoints.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.endpoints)
}
