package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "subscription closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestMemoryBroadcastIncludesPublisher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory(0)
	a, err := m.Subscribe(ctx)
	require.NoError(t, err)
	b, err := m.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, []byte("hello")))

	assert.Equal(t, "hello", string(receive(t, a)))
	assert.Equal(t, "hello", string(receive(t, b)))
}

func TestMemoryFramesAreCopied(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory(1)
	sub, err := m.Subscribe(ctx)
	require.NoError(t, err)

	data := []byte("abc")
	require.NoError(t, m.Publish(ctx, data))
	data[0] = 'z'

	assert.Equal(t, "abc", string(receive(t, sub)))
}

func TestMemoryUnsubscribeOnContextCancel(t *testing.T) {
	m := NewMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := m.Subscribe(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, m.Subscribers())

	cancel()
	require.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-sub
	assert.False(t, ok)
}

func TestMemoryCancelledSubscriberDoesNotBlockPublisher(t *testing.T) {
	m := NewMemory(1)
	subCtx, cancel := context.WithCancel(context.Background())
	_, err := m.Subscribe(subCtx)
	require.NoError(t, err)

	require.NoError(t, m.Publish(context.Background(), []byte("fills buffer")))

	published := make(chan error, 1)
	go func() { published <- m.Publish(context.Background(), []byte("blocks")) }()

	cancel()
	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked")
	}
}

func TestMemoryPublishHonoursContext(t *testing.T) {
	m := NewMemory(1)
	_, err := m.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Publish(context.Background(), []byte("one")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Publish(ctx, []byte("two")), context.DeadlineExceeded)
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(1)
	sub, err := m.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, ok := <-sub
	assert.False(t, ok)
	assert.ErrorIs(t, m.Publish(context.Background(), []byte("x")), ErrClosed)
	_, err = m.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryConcurrentPublishers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory(8)
	sub, err := m.Subscribe(ctx)
	require.NoError(t, err)

	const publishers, each = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				assert.NoError(t, m.Publish(ctx, []byte("x")))
			}
		}()
	}

	got := 0
	for got < publishers*each {
		receive(t, sub)
		got++
	}
	wg.Wait()
	assert.Equal(t, publishers*each, got)
}
