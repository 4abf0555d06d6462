package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Channel backed by a Redis pub/sub topic.
type Redis struct {
	client redis.UniversalClient
	topic  string
	owned  bool
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// RedisTopic returns the pub/sub topic carrying frames for tab.
func RedisTopic(prefix, tab string) string {
	return prefix + ":tab:" + tab
}

// NewRedis wraps an existing client. The client is not closed by Close.
func NewRedis(client redis.UniversalClient, topic string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		topic:  topic,
		logger: logger.With(zap.String("topic", topic)),
		done:   make(chan struct{}),
	}
}

// DialRedis connects to addr, which is either host:port or a redis:// URL.
func DialRedis(ctx context.Context, addr, topic string, logger *zap.Logger) (*Redis, error) {
	var client redis.UniversalClient
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opts)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	r := NewRedis(client, topic, logger)
	r.owned = true
	return r, nil
}

// Publish sends data on the topic.
func (r *Redis) Publish(ctx context.Context, data []byte) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	if err := r.client.Publish(ctx, r.topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription. It returns once Redis has
// confirmed the subscription, so frames published afterwards are seen.
func (r *Redis) Subscribe(ctx context.Context) (<-chan []byte, error) {
	select {
	case <-r.done:
		return nil, ErrClosed
	default:
	}

	ps := r.client.Subscribe(ctx, r.topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := ps.Channel()
	out := make(chan []byte, defaultBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				case <-r.done:
					return
				}
			}
		}
	}()

	return out, nil
}

// Close ends every subscription and, for dialed channels, the client.
func (r *Redis) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.owned {
			err = r.client.Close()
		}
	})
	return err
}
