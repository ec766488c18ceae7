package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/event"
	"github.com/sharetube/classroom/internal/peer"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/sharetube/classroom/internal/transport"
)

// Initialize acquires capture, optionally joins, then starts the dispatch
// loop and opens the transport channel. It returns once the channel is
// connecting; Ready reports the first snapshot. A failure tears down
// whatever was already acquired.
func (c *Controller) Initialize(ctx context.Context) error {
	err := ErrAlreadyInitialized
	c.initOnce.Do(func() {
		err = c.initialize(ctx)
	})

	return err
}

func (c *Controller) initialize(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	capture, err := c.deps.OpenCapture(ctx)
	if err != nil {
		c.fail(ctx, err)
		return fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
	}
	c.mu.Lock()
	c.capture = capture
	c.mu.Unlock()

	factory, err := c.deps.NewFactory(capture.Tracks())
	if err != nil {
		c.fail(ctx, err)
		return fmt.Errorf("failed to create peer factory: %w", err)
	}

	peers := peer.NewEngine(c.cfg.Peer, factory, &signaler{c: c}, c.loop, c.logger, peer.Hooks{
		OnStateChange: c.peerStateChanged,
	})
	c.mu.Lock()
	c.peers = peers
	c.mu.Unlock()

	id := transport.Identity{
		SessionID: c.cfg.SessionID,
		UserID:    c.cfg.UserID,
	}

	if c.cfg.JoinOnStart {
		participantID, err := c.deps.Backend.Join(ctx)
		if err != nil {
			c.fail(ctx, err)
			return fmt.Errorf("%w: %w", ErrJoinFailed, err)
		}
		// the id stays unknown until the connected ack confirms it
		id.ParticipantID = &participantID
		c.logger.InfoContext(ctx, "joined session", "participant_id", participantID)
	}

	c.notes.start(runCtx)
	c.journal.start(runCtx)
	c.mirror.start(runCtx)
	go c.loop.Run(runCtx)

	if err := c.deps.Channel.Connect(runCtx, id, c.onEvent); err != nil {
		c.fail(ctx, err)
		return fmt.Errorf("failed to connect transport: %w", err)
	}

	c.logger.InfoContext(ctx, "session initialized", "role", c.cfg.Role)

	return nil
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.logger.ErrorContext(ctx, "session initialization failed", "error", err)
	c.notes.emit(repository.Notification{
		Kind:    repository.NotifyNotice,
		Message: fmt.Sprintf("failed to start session: %v", err),
	})
	c.terminate(ctx, ReasonFailed)
	c.teardown()
}

// onEvent runs on transport goroutines and queues the event on the loop.
func (c *Controller) onEvent(raw []byte) {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	buf := append([]byte(nil), raw...)
	if !c.loop.Post(func() { c.dispatch(ctx, buf) }) {
		c.logger.Debug("event dropped after teardown")
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
		c.logger.Info("session ready")
	})
}

// terminate ends the session view once. Later calls are no-ops.
func (c *Controller) terminate(ctx context.Context, reason Reason) {
	c.terminateOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()

		c.logger.InfoContext(ctx, "session terminated", "reason", reason)
		c.notes.emit(repository.Notification{Kind: repository.NotifyTerminated, Reason: string(reason)})
		close(c.done)

		// teardown waits for transport goroutines that may be blocked on
		// the loop, so it must not run on the loop itself
		go c.teardown()
	})
}

// Close terminates the session locally and releases every resource. It
// is safe to call at any point, including after a failed Initialize.
func (c *Controller) Close() error {
	c.terminate(context.Background(), ReasonClosed)
	c.teardown()

	return nil
}

func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		c.loop.Stop()

		c.mu.Lock()
		capture := c.capture
		peers := c.peers
		cancel := c.cancel
		c.mu.Unlock()

		var errs []error

		if err := c.deps.Channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
		}
		if peers != nil {
			peers.CloseAll()
		}
		if err := c.audio.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playback: %w", err))
		}
		if capture != nil {
			if err := capture.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to release capture: %w", err))
			}
		}

		c.journal.stop()
		c.mirror.stop()
		if cancel != nil {
			cancel()
		}
		c.notes.close()

		if err := errors.Join(errs...); err != nil {
			c.logger.Warn("teardown finished with errors", "error", err)
		} else {
			c.logger.Info("session torn down")
		}
	})
}

// signaler carries peer signals over the transport channel.
type signaler struct {
	c *Controller
}

func (s *signaler) Signal(to domain.ParticipantID, sig peer.Signal) {
	s.c.mu.Lock()
	ctx := s.c.runCtx
	s.c.mu.Unlock()

	s.c.deps.Channel.Send(ctx, event.Signal(to, sig))
}
