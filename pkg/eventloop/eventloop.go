package eventloop

import (
	"context"
	"errors"
	"sync"
)

var ErrStopped = errors.New("event loop stopped")

// Loop runs posted funcs one at a time on a single goroutine. Everything
// that mutates state owned by the loop must go through Post or Do.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

func New(size int) *Loop {
	if size < 1 {
		size = 1
	}

	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Run processes funcs in posting order until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post enqueues fn and reports whether it was accepted. It blocks while the
// queue is full and returns false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.queue <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for its result. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)

	posted := l.Post(func() {
		result <- fn()
	})
	if !posted {
		return ErrStopped
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}
