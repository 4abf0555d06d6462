package channel

import (
	"context"
	"sync"
)

const defaultBuffer = 64

// Memory is an in-process broadcast channel.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
	buffer int
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemory creates an in-process channel. buffer is the per-subscriber
// queue length; values below one use a default.
func NewMemory(buffer int) *Memory {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Memory{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Publish delivers a copy of data to every subscriber, waiting for slow
// subscribers until ctx is done.
func (m *Memory) Publish(ctx context.Context, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs {
		frame := make([]byte, len(data))
		copy(frame, data)

		select {
		case sub.ch <- frame:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (m *Memory) Subscribe(ctx context.Context) (<-chan []byte, error) {
	sub := &subscriber{
		ch:   make(chan []byte, m.buffer),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			m.unsubscribe(sub)
		case <-sub.done:
		}
	}()

	return sub.ch, nil
}

// Subscribers reports the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// unsubscribe releases blocked publishers before taking the write lock.
func (m *Memory) unsubscribe(sub *subscriber) {
	sub.stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub]; ok {
		delete(m.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription. Closing twice is a no-op.
func (m *Memory) Close() error {
	m.mu.RLock()
	for sub := range m.subs {
		sub.stop()
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		delete(m.subs, sub)
		close(sub.ch)
	}
	return nil
}
