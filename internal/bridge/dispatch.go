package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// inbox is an unbounded FIFO of raw frames with a single consumer. The
// channel subscription pushes into it without ever waiting on dispatch.
type inbox struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
	closed bool
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(frame []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, frame)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the next frame, blocking until one arrives. It reports false
// once the inbox is closed and drained, or ctx is done.
func (q *inbox) pop(ctx context.Context) ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			frame := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return frame, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *inbox) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// receive moves frames from the channel subscription into the inbox and
// tears the endpoint down when the subscription ends.
func (e *Endpoint) receive(frames <-chan []byte) {
	defer e.teardown()
	defer e.inbox.close()

	for frame := range frames {
		e.inbox.push(frame)
	}
}

// dispatch is the single consumer of the inbox. It never publishes:
// invocations are served on their own goroutines.
func (e *Endpoint) dispatch() {
	defer e.teardown()

	for {
		frame, ok := e.inbox.pop(e.ctx)
		if !ok {
			return
		}
		e.route(frame)
	}
}

func (e *Endpoint) route(frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		e.drop(dropMalformed, zap.Error(err))
		return
	}
	if reason := admit(e.id, e.domain, env); reason != "" {
		e.drop(reason, zap.String("from_bridge", string(env.BridgeID)), zap.String("from_domain", string(env.DomainTag)))
		return
	}

	e.metrics.RecordEnvelopeReceived(e.domain.String(), string(env.Kind))

	switch env.Kind {
	case KindAnnouncement:
		if env.Command == "" {
			e.drop(dropMalformed, zap.String("reason", "announcement without command"))
			return
		}
		e.installProxy(env.Command)

	case KindResponse:
		if !e.calls.deliver(env.MessageID, Response(env.Result)) {
			e.logger.Debug("Ignoring response with no pending call",
				zap.String("message_id", env.MessageID.String()),
				zap.String("command", env.Command))
		}

	case KindInvocation:
		if env.MessageID == "" {
			e.drop(dropMalformed, zap.String("reason", "invocation without message id"))
			return
		}
		go e.serve(env)

	default:
		e.drop(dropMalformed, zap.String("kind", string(env.Kind)))
	}
}

func (e *Endpoint) drop(reason string, fields ...zap.Field) {
	e.metrics.RecordEnvelopeDropped(e.domain.String(), reason)
	e.logger.Debug("Dropped frame", append(fields, zap.String("drop_reason", reason))...)
}

// serve answers one invocation with exactly one response.
func (e *Endpoint) serve(env *Envelope) {
	value, outcome := e.invoke(env)
	result, err := encodeValue(value)
	if err != nil {
		outcome = "unencodable"
		result, _ = encodeValue(failure("%s failed: %v", env.Command, err))
	}
	if result == nil {
		result = []byte("null")
	}
	e.metrics.RecordHandlerInvocation(e.domain.String(), outcome)

	resp := &Envelope{
		BridgeID:  e.id,
		DomainTag: e.domain,
		MessageID: env.MessageID,
		Kind:      KindResponse,
		Command:   env.Command,
		Result:    result,
	}
	if err := e.publish(e.ctx, resp); err != nil {
		e.logger.Warn("Failed to publish response",
			zap.String("command", env.Command),
			zap.String("message_id", env.MessageID.String()),
			zap.Error(err))
	}
}

// invoke runs the handler for command, converting every failure mode into
// a Failure value.
func (e *Endpoint) invoke(env *Envelope) (value any, outcome string) {
	command := env.Command
	h, ok := e.handlers.lookup(command)
	if !ok {
		e.logger.Debug("Unknown command", zap.String("command", command))
		return failure("Unknown command: %s", command), "unknown"
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Handler panicked",
				zap.String("command", command),
				zap.Any("panic", r))
			value, outcome = failure("%s failed: %v", command, r), "panic"
		}
	}()

	result, err := h.Invoke(e.ctx, env.Payload)
	if err != nil {
		e.logger.Debug("Handler failed", zap.String("command", command), zap.Error(err))
		return failure("%s failed: %v", command, err), "error"
	}
	return result, "success"
}

func (e *Endpoint) installProxy(command string) {
	p := &Proxy{command: command, endpoint: e}
	if !e.proxies.install(p) {
		e.metrics.AddProxies(1)
	}
	e.logger.Debug("Installed proxy", zap.String("command", command))

	if e.onProxy != nil {
		e.onProxy(p)
	}
}
