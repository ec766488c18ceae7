package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/classroom/pkg/ctxlogger"
)

// stream is one established inbound connection.
type stream interface {
	// pump delivers events until the stream fails or ends.
	pump(ctx context.Context, onEvent EventHandler) error
	close() error
}

type dialFunc func(ctx context.Context, id Identity) (stream, error)

// reconnector keeps a stream alive with a fixed backoff and no retry cap.
type reconnector struct {
	logger   *slog.Logger
	backoff  time.Duration
	dial     dialFunc
	onStatus StatusHandler

	mu      sync.Mutex
	current stream
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func (r *reconnector) start(ctx context.Context, id Identity, onEvent EventHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return ErrAlreadyConnected
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, id, onEvent)
	}()

	return nil
}

func (r *reconnector) run(ctx context.Context, id Identity, onEvent EventHandler) {
	for attempt := 1; ; attempt++ {
		attemptCtx := ctxlogger.AppendCtx(ctx, slog.Int("conn_attempt", attempt))

		if attempt == 1 {
			r.onStatus(StatusConnecting, nil)
		}

		err := r.attempt(attemptCtx, id, onEvent)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, io.EOF) {
			r.logger.InfoContext(attemptCtx, "stream closed by server, reconnecting", "backoff", r.backoff)
		} else {
			r.logger.WarnContext(attemptCtx, "stream failed, reconnecting", "error", err, "backoff", r.backoff)
		}
		r.onStatus(StatusReconnecting, err)

		timer := time.NewTimer(r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *reconnector) attempt(ctx context.Context, id Identity, onEvent EventHandler) error {
	s, err := r.dial(ctx, id)
	if err != nil {
		return err
	}

	if !r.setCurrent(ctx, s) {
		// closed while dialing
		s.close()
		return ctx.Err()
	}
	defer r.clearCurrent(s)

	r.logger.InfoContext(ctx, "stream connected")
	r.onStatus(StatusConnected, nil)

	return s.pump(ctx, func(raw []byte) {
		if ctx.Err() != nil {
			return
		}
		onEvent(raw)
	})
}

func (r *reconnector) setCurrent(ctx context.Context, s stream) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || ctx.Err() != nil {
		return false
	}
	r.current = s

	return true
}

func (r *reconnector) clearCurrent(s stream) {
	r.mu.Lock()
	if r.current == s {
		r.current = nil
	}
	r.mu.Unlock()

	s.close()
}

// stop cancels the backoff timer and the live stream, then waits for the
// loop to exit. Safe to call more than once.
func (r *reconnector) stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	current := r.current
	r.current = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if current != nil {
		current.close()
	}

	r.wg.Wait()
	r.onStatus(StatusClosed, nil)
}
