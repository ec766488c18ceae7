package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/classroom/internal/event"
)

const writeWait = 10 * time.Second

type wsStream struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsStream) pump(ctx context.Context, onEvent EventHandler) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return io.EOF
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		onEvent(data)
	}
}

func (s *wsStream) write(action event.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsStream) close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})

	return err
}

// WebSocketChannel is the persistent-socket binding: one connection
// carries both inbound events and outbound actions.
type WebSocketChannel struct {
	cfg    Config
	logger *slog.Logger
	opts   options

	reconnector *reconnector
	outbox      *outbox

	mu   sync.Mutex
	live *wsStream
}

func NewWebSocketChannel(cfg Config, logger *slog.Logger, opts ...Option) *WebSocketChannel {
	c := &WebSocketChannel{
		cfg:    cfg,
		logger: logger.With("transport", string(KindWebSocket)),
		opts:   buildOptions(opts),
	}

	c.reconnector = &reconnector{
		logger:   c.logger,
		backoff:  cfg.Backoff,
		dial:     c.dial,
		onStatus: c.opts.onStatus,
	}
	c.outbox = newOutbox(c.logger, cfg.OutboxSize, c.deliver)

	return c
}

func (c *WebSocketChannel) dial(ctx context.Context, id Identity) (stream, error) {
	u, err := sessionURL(c.cfg.BaseURL, c.cfg.SocketPath, id)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, resp, err := c.opts.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}

	s := &wsStream{conn: conn}

	c.mu.Lock()
	c.live = s
	c.mu.Unlock()

	return s, nil
}

func (c *WebSocketChannel) deliver(_ context.Context, action event.Action) error {
	c.mu.Lock()
	s := c.live
	c.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}

	if err := s.write(action); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return ErrNotConnected
		}
		return fmt.Errorf("failed to write action: %w", err)
	}

	return nil
}

func (c *WebSocketChannel) Connect(ctx context.Context, id Identity, onEvent EventHandler) error {
	if err := c.reconnector.start(ctx, id, onEvent); err != nil {
		return err
	}
	c.outbox.start(ctx)

	return nil
}

func (c *WebSocketChannel) Send(ctx context.Context, action event.Action) {
	c.outbox.enqueue(ctx, action)
}

func (c *WebSocketChannel) Close() error {
	c.reconnector.stop()
	c.outbox.stop()

	c.mu.Lock()
	c.live = nil
	c.mu.Unlock()

	return nil
}
