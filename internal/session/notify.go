package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/repository"
)

// notifier fans notifications out to in-process subscribers and to
// external observers.
type notifier struct {
	session   domain.SessionID
	logger    *slog.Logger
	observers []Observer
	out       *worker[repository.Notification]
	now       func() time.Time

	mu     sync.Mutex
	next   int
	subs   map[int]chan repository.Notification
	closed bool
}

func newNotifier(session domain.SessionID, observers []Observer, logger *slog.Logger) *notifier {
	n := &notifier{
		session:   session,
		logger:    logger,
		observers: observers,
		now:       time.Now,
		subs:      make(map[int]chan repository.Notification),
	}
	n.out = newWorker(logger.With("worker", "observers"), 64, n.publish)

	return n
}

func (n *notifier) start(ctx context.Context) {
	if len(n.observers) > 0 {
		n.out.start(ctx)
	}
}

func (n *notifier) subscribe(size int) (<-chan repository.Notification, func()) {
	if size < 1 {
		size = 16
	}
	ch := make(chan repository.Notification, size)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.next
	n.next++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()

			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

func (n *notifier) emit(note repository.Notification) {
	note.SessionID = n.session
	if note.At.IsZero() {
		note.At = n.now()
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.logger.Debug("subscriber is slow, dropping notification", "kind", note.Kind)
		}
	}
	n.mu.Unlock()

	if len(n.observers) > 0 {
		n.out.push(note)
	}
}

func (n *notifier) publish(ctx context.Context, note repository.Notification) {
	for _, o := range n.observers {
		if err := o.Publish(ctx, note); err != nil {
			n.logger.WarnContext(ctx, "failed to publish notification", "kind", note.Kind, "error", err)
		}
	}
}

// close ends every subscription after the pending observer deliveries.
func (n *notifier) close() {
	n.out.stop()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
