// Package testutil provides mocks and helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/terabithia/internal/channel"
)

// MockChannel is a mock implementation of channel.Channel. Frames handed
// to Feed reach whoever subscribed; frames published successfully show up
// on Sent.
type MockChannel struct {
	mock.Mock

	feed    chan []byte
	sent    chan []byte
	endOnce sync.Once
}

// Publish mocks the Publish method.
func (m *MockChannel) Publish(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	err := args.Error(0)
	if err == nil && m.sent != nil {
		select {
		case m.sent <- data:
		default:
		}
	}
	return err
}

// Subscribe mocks the Subscribe method.
func (m *MockChannel) Subscribe(ctx context.Context) (<-chan []byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan []byte), args.Error(1)
}

// Close mocks the Close method.
func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Feed delivers a frame to the subscriber.
func (m *MockChannel) Feed(frame []byte) {
	m.feed <- frame
}

// End closes the subscription.
func (m *MockChannel) End() {
	if m.feed == nil {
		return
	}
	m.endOnce.Do(func() { close(m.feed) })
}

// NewMockChannel creates a mock channel whose publishes return publishErr
// and whose subscription is fed through Feed.
func NewMockChannel(t *testing.T, publishErr error) *MockChannel {
	t.Helper()
	m := &MockChannel{
		feed: make(chan []byte, 64),
		sent: make(chan []byte, 64),
	}

	m.On("Publish", mock.Anything, mock.Anything).Return(publishErr).Maybe()
	m.On("Subscribe", mock.Anything).Return((<-chan []byte)(m.feed), nil).Maybe()
	m.On("Close").Return(nil).Maybe()

	t.Cleanup(m.End)
	return m
}

// Sent streams frames published without error.
func (m *MockChannel) Sent() <-chan []byte {
	return m.sent
}

// FrameLog records every frame seen on a channel.
type FrameLog struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

// Tap subscribes to ch for the rest of the test.
func Tap(t *testing.T, ch channel.Channel) *FrameLog {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	frames, err := ch.Subscribe(ctx)
	if err != nil {
		t.Fatalf("tap subscribe: %v", err)
	}

	l := &FrameLog{notify: make(chan struct{}, 1)}
	go func() {
		for frame := range frames {
			l.mu.Lock()
			l.frames = append(l.frames, frame)
			l.mu.Unlock()
			select {
			case l.notify <- struct{}{}:
			default:
			}
		}
	}()
	return l
}

// Frames returns a copy of the recorded frames.
func (l *FrameLog) Frames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.frames...)
}

// Decoded returns recorded frames decoded as JSON objects. Frames that do
// not decode are skipped.
func (l *FrameLog) Decoded() []map[string]any {
	var out []map[string]any
	for _, frame := range l.Frames() {
		var m map[string]any
		if err := channel.Decode(frame, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Kinds returns the "kind" field of each decoded frame.
func (l *FrameLog) Kinds() []string {
	var kinds []string
	for _, m := range l.Decoded() {
		kind, _ := m["kind"].(string)
		kinds = append(kinds, kind)
	}
	return kinds
}

// WaitFor blocks until at least n frames are recorded.
func (l *FrameLog) WaitFor(t *testing.T, n int, timeout time.Duration) [][]byte {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if frames := l.Frames(); len(frames) >= n {
			return frames
		}
		select {
		case <-l.notify:
		case <-deadline:
			t.Fatalf("expected %d frames, got %d", n, len(l.Frames()))
		}
	}
}
