package channel

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing to or subscribing on a closed channel.
var ErrClosed = errors.New("channel closed")

// Channel is a broadcast medium scoped to a single page (tab).
type Channel interface {
	// Publish delivers data to every current subscriber.
	Publish(ctx context.Context, data []byte) error

	// Subscribe returns a stream of every frame published after the call
	// returns. The stream is closed when ctx is done or the channel closes.
	Subscribe(ctx context.Context) (<-chan []byte, error)

	// Close releases the channel and ends every subscription.
	Close() error
}
