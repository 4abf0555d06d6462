package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/GriffinCanCode/terabithia/internal/channel"
)

// Handler serves one command for the counterpart domain. The returned value
// is sent back verbatim; an error becomes a failure response.
type Handler interface {
	Invoke(ctx context.Context, payload json.RawMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Invoke calls f.
func (f HandlerFunc) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// Typed adapts a function taking a decoded payload. An absent or null
// payload leaves In at its zero value.
type Typed[In, Out any] func(ctx context.Context, in In) (Out, error)

// Invoke decodes the payload into In and calls f.
func (f Typed[In, Out]) Invoke(ctx context.Context, payload json.RawMessage) (any, error) {
	var in In
	if len(payload) > 0 && string(payload) != "null" {
		if err := channel.Decode(payload, &in); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return f(ctx, in)
}

// Handlers maps command names to handlers for batch registration.
type Handlers map[string]Handler

// registry holds the commands this domain serves. Lookup is exact match.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

func validateHandlers(batch Handlers) error {
	for command, h := range batch {
		if command == "" {
			return fmt.Errorf("%w: empty command name", ErrInvalidHandler)
		}
		if isNilHandler(h) {
			return fmt.Errorf("%w: nil handler for %q", ErrInvalidHandler, command)
		}
	}
	return nil
}

func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// store installs h, reporting whether it replaced an existing handler.
func (r *registry) store(command string, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.handlers[command]
	r.handlers[command] = h
	return replaced
}

func (r *registry) lookup(command string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[command]
	return h, ok
}

func (r *registry) commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.handlers)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
