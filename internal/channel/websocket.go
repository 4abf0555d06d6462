package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/infrastructure/resilience"
)

const writeTimeout = 10 * time.Second

// WebSocketOptions configures a relay connection.
type WebSocketOptions struct {
	Dialer  *websocket.Dialer
	Header  http.Header
	Breaker *resilience.Breaker
	Logger  *zap.Logger
}

// WebSocket is a Channel backed by one connection to a relay room.
// The relay echoes every frame to every connection in the room, so
// local subscribers see their own publishes as well.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	local   *Memory
	breaker *resilience.Breaker
	logger  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// RelayTabURL returns the room address for tab on the relay at base.
func RelayTabURL(base, tab string) string {
	return strings.TrimRight(base, "/") + "/tabs/" + url.PathEscape(tab) + "/ws"
}

// DialWebSocket connects to a relay room.
func DialWebSocket(ctx context.Context, rawURL string, opts WebSocketOptions) (*WebSocket, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.New("relay", resilience.Settings{
			Timeout: 5 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		})
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var conn *websocket.Conn
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		c, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", rawURL, err)
	}

	w := &WebSocket{
		conn:    conn,
		local:   NewMemory(defaultBuffer),
		breaker: breaker,
		logger:  logger.With(zap.String("relay", rawURL)),
		done:    make(chan struct{}),
	}
	go w.readLoop()

	w.logger.Debug("Relay connected")
	return w, nil
}

func (w *WebSocket) readLoop() {
	defer w.local.Close()

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Warn("Relay connection lost", zap.Error(err))
			}
			return
		}
		if err := w.local.Publish(context.Background(), data); err != nil {
			return
		}
	}
}

// Publish sends data to the relay room.
func (w *WebSocket) Publish(ctx context.Context, data []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(writeTimeout)
		}
		if err := w.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return w.conn.WriteMessage(websocket.TextMessage, data)
	})
	if err != nil {
		return fmt.Errorf("websocket publish: %w", err)
	}
	return nil
}

// Subscribe streams frames received from the relay room.
func (w *WebSocket) Subscribe(ctx context.Context) (<-chan []byte, error) {
	return w.local.Subscribe(ctx)
}

// Close sends a close frame and tears down the connection.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)

		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()
		if errors.Is(werr, websocket.ErrCloseSent) {
			werr = nil
		}

		err = multierr.Combine(werr, w.conn.Close(), w.local.Close())
	})
	return err
}
