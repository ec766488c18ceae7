package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sharetube/classroom/internal/event"
)

type deliverFunc func(ctx context.Context, action event.Action) error

// outbox delivers actions one at a time off the caller's goroutine.
type outbox struct {
	logger  *slog.Logger
	deliver deliverFunc
	queue   chan event.Action

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newOutbox(logger *slog.Logger, size int, deliver deliverFunc) *outbox {
	if size < 1 {
		size = 1
	}

	return &outbox{
		logger:  logger,
		deliver: deliver,
		queue:   make(chan event.Action, size),
	}
}

func (o *outbox) start(ctx context.Context) {
	o.once.Do(func() {
		ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.run(ctx)
		}()
	})
}

func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-o.queue:
			if err := o.deliver(ctx, action); err != nil {
				o.logger.WarnContext(ctx, "failed to send action", "action", action.Type(), "error", err)
			}
		}
	}
}

func (o *outbox) enqueue(ctx context.Context, action event.Action) {
	select {
	case o.queue <- action:
	default:
		o.logger.WarnContext(ctx, "outbox full, dropping action", "action", action.Type())
	}
}

func (o *outbox) stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}
