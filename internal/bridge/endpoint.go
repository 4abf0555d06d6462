package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/logging"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// Options configures an Endpoint.
type Options struct {
	BridgeID BridgeID
	Domain   Domain

	// Proxies makes RegisterHandlers announce each command so the
	// counterpart materializes a proxy for it. Received announcements
	// always install proxies.
	Proxies bool

	// CallTimeout bounds CallRemote when non-zero. Zero waits as long as
	// the caller's context allows.
	CallTimeout time.Duration

	// IDs generates message ids. Defaults to the monotonic ULID source.
	IDs id.Source

	Logger  *zap.Logger
	Metrics *monitoring.Metrics

	// OnProxy is called from the dispatch goroutine after a proxy is
	// installed. It must not block.
	OnProxy func(*Proxy)
}

func (o Options) validate(ch channel.Channel) error {
	switch {
	case o.BridgeID == "":
		return fmt.Errorf("%w: empty bridge id", ErrInvalidOptions)
	case !o.Domain.Valid():
		return fmt.Errorf("%w: unknown domain %q", ErrInvalidOptions, o.Domain)
	case ch == nil:
		return fmt.Errorf("%w: nil channel", ErrInvalidOptions)
	}
	return nil
}

// Endpoint is one domain's side of a bridge.
type Endpoint struct {
	id          BridgeID
	domain      Domain
	announce    bool
	callTimeout time.Duration

	ch      channel.Channel
	ids     id.Source
	logger  *zap.Logger
	metrics *monitoring.Metrics
	onProxy func(*Proxy)

	handlers *registry
	proxies  *proxyTable
	calls    *correlator
	inbox    *inbox

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	shutdown sync.Once
}

// New creates an endpoint and starts its dispatch loop. The endpoint is
// subscribed to ch before New returns. It lives until ctx is cancelled or
// the channel ends the subscription.
//
// Most callers should go through Hub.GetOrCreate, which refuses to build a
// second endpoint for the same bridge id and domain.
func New(ctx context.Context, ch channel.Channel, opts Options) (*Endpoint, error) {
	if err := opts.validate(ch); err != nil {
		return nil, err
	}

	ids := opts.IDs
	if ids == nil {
		ids = id.Default()
	}
	epCtx, cancel := context.WithCancel(ctx)
	frames, err := ch.Subscribe(epCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	e := &Endpoint{
		id:          opts.BridgeID,
		domain:      opts.Domain,
		announce:    opts.Proxies,
		callTimeout: opts.CallTimeout,
		ch:          ch,
		ids:         ids,
		logger:      logging.ForBridge(opts.Logger, string(opts.BridgeID), opts.Domain.String()),
		metrics:     opts.Metrics,
		onProxy:     opts.OnProxy,
		handlers:    newRegistry(),
		proxies:     newProxyTable(),
		calls:       newCorrelator(opts.Metrics),
		inbox:       newInbox(),
		ctx:         epCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	go e.receive(frames)
	go e.dispatch()

	e.logger.Debug("Context bridge initialized")
	return e, nil
}

// ID returns the bridge id.
func (e *Endpoint) ID() BridgeID { return e.id }

// Domain returns the endpoint's own domain.
func (e *Endpoint) Domain() Domain { return e.domain }

// Done is closed once the endpoint has been torn down.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

// RegisterHandlers adds handlers for commands the counterpart may invoke.
// The batch is validated first; an invalid batch stores nothing. A command
// registered again replaces its previous handler. With proxies enabled,
// one announcement is published per command, in name order.
func (e *Endpoint) RegisterHandlers(batch Handlers) error {
	if err := validateHandlers(batch); err != nil {
		return err
	}

	commands := sortedKeys(batch)
	for _, command := range commands {
		if e.handlers.store(command, batch[command]) {
			e.logger.Warn("Replacing existing handler", zap.String("command", command))
		}
	}

	if !e.announce {
		return nil
	}

	var errs error
	for _, command := range commands {
		err := e.publish(e.ctx, &Envelope{
			BridgeID:  e.id,
			DomainTag: e.domain,
			Kind:      KindAnnouncement,
			Command:   command,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("announce %s: %w", command, err))
		}
	}
	return errs
}

// Register is RegisterHandlers for a single command.
func (e *Endpoint) Register(command string, h Handler) error {
	return e.RegisterHandlers(Handlers{command: h})
}

// Start publishes an invocation and returns the pending call.
func (e *Endpoint) Start(ctx context.Context, command string, payload any) (*Call, error) {
	data, err := encodeValue(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", command, err)
	}

	msgID := e.ids.NewMessageID()
	call, err := e.calls.track(msgID, command)
	if err != nil {
		return nil, err
	}

	err = e.publish(ctx, &Envelope{
		BridgeID:  e.id,
		DomainTag: e.domain,
		MessageID: msgID,
		Kind:      KindInvocation,
		Command:   command,
		Payload:   data,
	})
	if err != nil {
		e.calls.fail(msgID, err)
		return nil, fmt.Errorf("invoke %s: %w", command, err)
	}
	return call, nil
}

// CallRemote invokes command in the counterpart domain and waits for its
// response. Failures reported by the counterpart (unknown command, handler
// error) come back as a Response whose Failure method reports them; the
// error return is reserved for local problems.
func (e *Endpoint) CallRemote(ctx context.Context, command string, payload any) (Response, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	timer := monitoring.NewTimer(e.metrics, e.domain.String())

	call, err := e.Start(ctx, command, payload)
	if err != nil {
		timer.Stop(outcomeOf(nil, err))
		return nil, err
	}

	resp, err := call.Wait(ctx)
	timer.Stop(outcomeOf(resp, err))
	return resp, err
}

func outcomeOf(resp Response, err error) string {
	switch {
	case err == nil:
		if _, failed := resp.Failure(); failed {
			return "failure"
		}
		return "success"
	case errors.Is(err, ErrEndpointClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// CallAs invokes command and decodes a successful result into Out. A failure
// response is returned as a *Failure error.
func CallAs[Out any](ctx context.Context, e *Endpoint, command string, payload any) (Out, error) {
	var out Out
	resp, err := e.CallRemote(ctx, command, payload)
	if err != nil {
		return out, err
	}
	if f, failed := resp.Failure(); failed {
		return out, f
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", command, err)
	}
	return out, nil
}

// Proxy returns the proxy for a command the counterpart has announced.
func (e *Endpoint) Proxy(command string) (*Proxy, bool) {
	return e.proxies.get(command)
}

// Proxies lists the announced commands in name order.
func (e *Endpoint) Proxies() []string {
	return e.proxies.commands()
}

// Commands lists the locally registered commands in name order.
func (e *Endpoint) Commands() []string {
	return e.handlers.commands()
}

// Pending returns the number of calls awaiting a response.
func (e *Endpoint) Pending() int {
	return e.calls.len()
}

func (e *Endpoint) publish(ctx context.Context, env *Envelope) error {
	frame, err := channel.Encode(env)
	if err != nil {
		return err
	}
	if err := e.ch.Publish(ctx, frame); err != nil {
		return err
	}
	e.metrics.RecordEnvelopeSent(e.domain.String(), string(env.Kind))
	return nil
}

// teardown runs once, when the subscription has ended.
func (e *Endpoint) teardown() {
	e.shutdown.Do(func() {
		e.cancel()
		n := e.calls.close()
		close(e.done)
		e.logger.Debug("Bridge torn down", zap.Int("abandoned_calls", n))
	})
}
