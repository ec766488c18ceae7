package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/event"
)

var (
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAlreadyConnected = errors.New("transport is already connected")
	ErrClosed           = errors.New("transport is closed")
	ErrMalformedEvent   = errors.New("malformed event")
	ErrUnknownKind      = errors.New("unknown transport kind")
)

type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindSSE       Kind = "sse"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// Identity is reused unchanged by every reconnect attempt.
type Identity struct {
	SessionID     domain.SessionID
	UserID        domain.UserID
	ParticipantID *domain.ParticipantID
}

func (id Identity) query() url.Values {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(int64(id.UserID), 10))
	if id.ParticipantID != nil {
		q.Set("participant_id", id.ParticipantID.String())
	}

	return q
}

// EventHandler receives every inbound event as raw JSON, in arrival order.
type EventHandler func(raw []byte)

type StatusHandler func(status Status, err error)

// Channel is the bidirectional event channel to the backend.
type Channel interface {
	// Connect starts the inbound stream and keeps it alive until Close.
	Connect(ctx context.Context, id Identity, onEvent EventHandler) error
	// Send queues one action. Delivery faults are logged, never returned.
	Send(ctx context.Context, action event.Action)
	Close() error
}

type Config struct {
	Kind        Kind          `json:"kind"`
	BaseURL     string        `json:"base_url"`
	SocketPath  string        `json:"socket_path"`
	EventsPath  string        `json:"events_path"`
	ActionsPath string        `json:"actions_path"`
	Backoff     time.Duration `json:"backoff"`
	OutboxSize  int           `json:"outbox_size"`
}

func DefaultConfig() Config {
	return Config{
		Kind:        KindWebSocket,
		SocketPath:  "/ws/sessions/%d",
		EventsPath:  "/sessions/%d/events",
		ActionsPath: "/sessions/%d/actions",
		Backoff:     2 * time.Second,
		OutboxSize:  64,
	}
}

type options struct {
	onStatus   StatusHandler
	httpClient *http.Client
	dialer     *websocket.Dialer
}

type Option func(*options)

func WithStatusHandler(h StatusHandler) Option {
	return func(o *options) {
		o.onStatus = h
	}
}

// WithHTTPClient sets the client used by the push-stream binding. It must
// not have a total request timeout, since the event stream is long-lived.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		onStatus:   func(Status, error) {},
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func New(cfg Config, logger *slog.Logger, opts ...Option) (Channel, error) {
	switch cfg.Kind {
	case KindWebSocket:
		return NewWebSocketChannel(cfg, logger, opts...), nil
	case KindSSE:
		return NewSSEChannel(cfg, logger, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

func sessionURL(base, pathTemplate string, id Identity) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}

	u = u.JoinPath(fmt.Sprintf(pathTemplate, id.SessionID))
	u.RawQuery = id.query().Encode()

	return u, nil
}
