package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sinkTimeout = 5 * time.Second

// worker hands items to a sink off the dispatch loop. Items are dropped
// when the queue is full.
type worker[T any] struct {
	logger *slog.Logger
	handle func(ctx context.Context, item T)
	queue  chan T

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWorker[T any](logger *slog.Logger, size int, handle func(ctx context.Context, item T)) *worker[T] {
	if size < 1 {
		size = 1
	}

	return &worker[T]{
		logger: logger,
		handle: handle,
		queue:  make(chan T, size),
	}
}

func (w *worker[T]) start(ctx context.Context) {
	w.once.Do(func() {
		ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.run(ctx)
		}()
	})
}

func (w *worker[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case item := <-w.queue:
			w.handleWithTimeout(ctx, item)
		}
	}
}

// drain flushes what was queued before stop with a fresh deadline.
func (w *worker[T]) drain() {
	for {
		select {
		case item := <-w.queue:
			w.handleWithTimeout(context.Background(), item)
		default:
			return
		}
	}
}

func (w *worker[T]) handleWithTimeout(ctx context.Context, item T) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	w.handle(ctx, item)
}

func (w *worker[T]) push(item T) {
	select {
	case w.queue <- item:
	default:
		w.logger.Warn("queue full, dropping item")
	}
}

func (w *worker[T]) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
