package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sharetube/classroom/internal/event"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}

type sseStream struct {
	logger *slog.Logger
	body   io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (s *sseStream) pump(ctx context.Context, onEvent EventHandler) error {
	decoder := NewSSEDecoder(s.body)

	for {
		raw, err := decoder.Next()
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				s.logger.WarnContext(ctx, "skipping malformed event", "error", err)
				continue
			}
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		onEvent(raw)
	}
}

func (s *sseStream) close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})

	return err
}

// SSEChannel is the push-stream-plus-POST binding: events arrive on a
// long-lived text/event-stream response and each action is its own POST.
type SSEChannel struct {
	cfg    Config
	logger *slog.Logger
	opts   options

	reconnector *reconnector
	outbox      *outbox

	mu       sync.Mutex
	identity *Identity
}

func NewSSEChannel(cfg Config, logger *slog.Logger, opts ...Option) *SSEChannel {
	c := &SSEChannel{
		cfg:    cfg,
		logger: logger.With("transport", string(KindSSE)),
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

func (c *SSEChannel) dial(ctx context.Context, id Identity) (stream, error) {
	u, err := sessionURL(c.cfg.BaseURL, c.cfg.EventsPath, id)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	return &sseStream{logger: c.logger, body: resp.Body, cancel: cancel}, nil
}

func (c *SSEChannel) deliver(ctx context.Context, action event.Action) error {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()

	if id == nil {
		return ErrNotConnected
	}

	u, err := sessionURL(c.cfg.BaseURL, c.cfg.ActionsPath, *id)
	if err != nil {
		return err
	}

	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *SSEChannel) Connect(ctx context.Context, id Identity, onEvent EventHandler) error {
	if err := c.reconnector.start(ctx, id, onEvent); err != nil {
		return err
	}

	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()

	c.outbox.start(ctx)

	return nil
}

func (c *SSEChannel) Send(ctx context.Context, action event.Action) {
	c.outbox.enqueue(ctx, action)
}

func (c *SSEChannel) Close() error {
	c.reconnector.stop()
	c.outbox.stop()

	return nil
}
