package bridge

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/terabithia/internal/shared/id"
)

// Call is a single outstanding invocation. It resolves exactly once.
type Call struct {
	ID      id.MessageID
	Command string

	owner *correlator
	once  sync.Once
	done  chan struct{}
	resp  Response
	err   error
}

// Done is closed when the call has resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the response arrives, the endpoint is torn down, or ctx
// is done. A call abandoned through ctx is forgotten: a response arriving
// later is ignored.
func (c *Call) Wait(ctx context.Context) (Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		c.owner.abandon(c)
		// The response may have won the race.
		select {
		case <-c.done:
			return c.resp, c.err
		default:
		}
		return nil, ctx.Err()
	}
}

func (c *Call) resolve(resp Response, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.resp, c.err = resp, err
		close(c.done)
		resolved = true
	})
	return resolved
}

// correlator tracks pending calls by message id.
type correlator struct {
	mu      sync.Mutex
	pending map[id.MessageID]*Call
	closed  bool
	metrics *monitoring.Metrics
}

func newCorrelator(metrics *monitoring.Metrics) *correlator {
	return &correlator{
		pending: make(map[id.MessageID]*Call),
		metrics: metrics,
	}
}

func (c *correlator) track(msgID id.MessageID, command string) (*Call, error) {
	call := &Call{
		ID:      msgID,
		Command: command,
		owner:   c,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrEndpointClosed
	}
	c.pending[msgID] = call
	c.metrics.AddPending(1)
	return call, nil
}

// take removes and returns the pending call for msgID.
func (c *correlator) take(msgID id.MessageID) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[msgID]
	if ok {
		delete(c.pending, msgID)
		c.metrics.AddPending(-1)
	}
	return call, ok
}

// deliver resolves the call waiting on msgID. It reports false when no call
// is pending, e.g. for stale or duplicate responses.
func (c *correlator) deliver(msgID id.MessageID, resp Response) bool {
	call, ok := c.take(msgID)
	if !ok {
		return false
	}
	return call.resolve(resp, nil)
}

func (c *correlator) abandon(call *Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[call.ID]; ok && cur == call {
		delete(c.pending, call.ID)
		c.metrics.AddPending(-1)
	}
}

// fail resolves msgID with err, used when the invocation never left.
func (c *correlator) fail(msgID id.MessageID, err error) {
	if call, ok := c.take(msgID); ok {
		call.resolve(nil, err)
	}
}

// close resolves every pending call with ErrEndpointClosed and rejects new
// ones.
func (c *correlator) close() int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[id.MessageID]*Call)
	c.closed = true
	c.metrics.AddPending(-len(calls))
	c.mu.Unlock()

	for _, call := range calls {
		call.resolve(nil, ErrEndpointClosed)
	}
	return len(calls)
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
