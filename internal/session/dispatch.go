package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/event"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/sharetube/classroom/internal/store"
	"github.com/sharetube/classroom/pkg/ctxlogger"
	"github.com/sharetube/classroom/pkg/eventrouter"
)

func (c *Controller) newRouter() *eventrouter.Router {
	r := eventrouter.New()
	r.Use(c.loggerMw(), eventrouter.Recoverer(), c.journalMw())

	r.Handle(event.TypeConnected, eventrouter.Typed(c.handleConnected))
	r.Handle(event.TypeSessionState, eventrouter.Typed(c.handleSessionState))
	r.Handle(event.TypeParticipantJoined, eventrouter.Typed(c.handleParticipantJoined))
	r.Handle(event.TypeParticipantAdded, eventrouter.Typed(c.handleParticipantAdded))
	r.Handle(event.TypeParticipantAlreadyPresent, eventrouter.Typed(c.handleParticipantAdded))
	r.Handle(event.TypeParticipantLeft, eventrouter.Typed(c.handleParticipantLeft))
	r.Handle(event.TypeParticipantKicked, eventrouter.Typed(c.handleParticipantLeft))
	r.Handle(event.TypeParticipantMuted, eventrouter.Typed(c.handleParticipantMuted))
	r.Handle(event.TypeHandRaised, eventrouter.Typed(c.handleHand(true)))
	r.Handle(event.TypeHandLowered, eventrouter.Typed(c.handleHand(false)))
	r.Handle(event.TypeChat, eventrouter.Typed(c.handleChat))
	r.Handle(event.TypeKicked, eventrouter.Typed(c.handleKicked))
	r.Handle(event.TypeSessionEnding, eventrouter.Typed(c.handleSessionEnding))
	r.Handle(event.TypeSessionEnded, eventrouter.Typed(c.handleSessionEnded))
	r.Handle(event.TypeDisconnected, eventrouter.Typed(c.handleDisconnected))
	r.Handle(event.TypeWebRTCSignal, eventrouter.Typed(c.handleSignal))
	r.Handle(event.TypeError, eventrouter.Typed(c.handleError))
	for _, t := range []string{
		event.TypeAudioSelected,
		event.TypeAudioPlay,
		event.TypeAudioPause,
		event.TypeAudioSeek,
		event.TypeAudioSpeedChange,
	} {
		r.Handle(t, eventrouter.Typed(c.handleTransport))
	}
	r.NotFound(c.handleUnknown)

	return r
}

// dispatch runs on the loop. Handler faults are logged here and never stop
// the loop.
func (c *Controller) dispatch(ctx context.Context, raw []byte) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("event_id", uuid.NewString()))

	err := c.router.Dispatch(ctx, raw)
	switch {
	case err == nil:
	case errors.Is(err, eventrouter.ErrMalformedEvent), errors.Is(err, eventrouter.ErrMissingType):
		c.logger.WarnContext(ctx, "dropping malformed event", "error", err)
	default:
		var panicErr *eventrouter.PanicError
		if errors.As(err, &panicErr) {
			c.logger.ErrorContext(ctx, "event handler panicked", "error", err, "stack", string(panicErr.Stack))
			return
		}
		c.logger.WarnContext(ctx, "event handler failed", "error", err)
	}
}

func (c *Controller) loggerMw() eventrouter.Middleware {
	return func(next eventrouter.HandlerFunc) eventrouter.HandlerFunc {
		return func(ctx context.Context, raw json.RawMessage) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("event_type", eventrouter.GetEventTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "event received", "size", len(raw))

			start := time.Now()
			err := next(ctx, raw)

			c.logger.DebugContext(ctx, "event handled",
				"processing_time_us", time.Since(start).Microseconds(),
				"failed", err != nil,
			)

			return err
		}
	}
}

// participantRefs picks the participant an event is about, for the journal.
type participantRefs struct {
	ParticipantID *domain.ParticipantID `json:"participant_id"`
	From          *domain.ParticipantID `json:"from"`
}

func (c *Controller) journalMw() eventrouter.Middleware {
	return func(next eventrouter.HandlerFunc) eventrouter.HandlerFunc {
		return func(ctx context.Context, raw json.RawMessage) error {
			err := next(ctx, raw)

			eventType := eventrouter.GetEventTypeFromCtx(ctx)
			if len(c.deps.Journals) == 0 || eventType == event.TypeWebRTCSignal {
				return err
			}

			var refs participantRefs
			_ = json.Unmarshal(raw, &refs)
			if refs.ParticipantID == nil {
				refs.ParticipantID = refs.From
			}

			c.journal.push(repository.JournalEntry{
				SessionID:     c.cfg.SessionID,
				EventType:     eventType,
				Direction:     repository.DirectionInbound,
				ParticipantID: refs.ParticipantID,
				Details:       append(json.RawMessage(nil), raw...),
				At:            c.now(),
			})

			return err
		}
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", eventrouter.ErrMalformedEvent, fmt.Sprintf(format, args...))
}

func (c *Controller) changed() {
	c.notes.emit(repository.Notification{Kind: repository.NotifyState})
}

func (c *Controller) notice(ctx context.Context, msg string) {
	c.logger.InfoContext(ctx, "notice", "message", msg)
	c.notes.emit(repository.Notification{Kind: repository.NotifyNotice, Message: msg})
}

func (c *Controller) handleConnected(ctx context.Context, e event.Connected) error {
	if e.ParticipantID == nil {
		return malformed("connected without participant_id")
	}

	id := *e.ParticipantID
	c.store.SetSelf(id)
	c.peers.SetSelf(domain.KnownSelf(id))
	c.logger.InfoContext(ctx, "connected", "participant_id", id)

	// a snapshot that arrived first was reconciled without a self id
	if c.synced {
		if err := c.peers.Reconcile(ctx, c.store.RemoteIDs()); err != nil {
			c.logger.WarnContext(ctx, "failed to reconcile peers", "error", err)
		}
	}
	c.changed()

	return nil
}

func playbackPatch(p event.Playback) store.TransportPatch {
	patch := store.TransportPatch{
		AudioID:  p.AudioID,
		Title:    p.Title,
		Speed:    p.Speed,
		Position: p.Position,
		Duration: p.Duration,
	}
	if p.Status != nil {
		playing := p.IsPlaying()
		patch.Playing = &playing
	}

	return patch
}

func (c *Controller) handleSessionState(ctx context.Context, e event.SessionState) error {
	roster, err := e.Roster()
	if err != nil {
		return fmt.Errorf("%w: %w", eventrouter.ErrMalformedEvent, err)
	}

	var patch *store.TransportPatch
	if e.Playback != nil {
		p := playbackPatch(*e.Playback)
		patch = &p
	}

	removed := c.store.ApplySnapshot(roster, patch)
	if len(removed) > 0 {
		c.logger.InfoContext(ctx, "participants dropped by snapshot", "participant_ids", removed)
	}
	c.synced = true

	if err := c.peers.Reconcile(ctx, c.store.RemoteIDs()); err != nil {
		c.logger.WarnContext(ctx, "failed to reconcile peers", "error", err)
	}

	if e.Playback != nil {
		c.restorePlayback(ctx, c.store.Transport())
	} else {
		c.recoverPlayback(ctx)
	}

	c.markReady()
	c.changed()

	return nil
}

func (c *Controller) handleParticipantJoined(ctx context.Context, e event.ParticipantJoined) error {
	if c.store.Self().Is(e.ParticipantID) {
		return nil
	}

	c.store.ApplyParticipantJoined(e.Participant())
	c.changed()

	return c.peers.ParticipantObserved(ctx, e.ParticipantID)
}

// handleParticipantAdded covers membership records created over REST. The
// participant has no stream yet, so there is no peer side effect.
func (c *Controller) handleParticipantAdded(_ context.Context, e event.ParticipantJoined) error {
	if c.store.ApplyParticipantJoined(e.Participant()) {
		c.changed()
	}

	return nil
}

func (c *Controller) handleParticipantLeft(ctx context.Context, e event.ParticipantRef) error {
	if e.ParticipantID == nil {
		return malformed("participant event without participant_id")
	}
	id := *e.ParticipantID

	if c.store.Self().Is(id) {
		if eventrouter.GetEventTypeFromCtx(ctx) == event.TypeParticipantKicked {
			c.terminate(ctx, ReasonKicked)
		}
		return nil
	}

	c.removeParticipant(ctx, id)

	return nil
}

func (c *Controller) removeParticipant(ctx context.Context, id domain.ParticipantID) {
	if c.store.ApplyParticipantLeft(id) {
		c.changed()
	}
	if c.peers.Remove(ctx, id) {
		c.logger.DebugContext(ctx, "peer closed after departure", "remote_participant_id", id)
	}
}

func (c *Controller) handleParticipantMuted(_ context.Context, e event.ParticipantMuted) error {
	if c.store.Self().Is(e.ParticipantID) {
		c.muted = e.IsMuted
		c.capture.SetMuted(e.IsMuted)
	}

	if c.store.ApplyParticipantMuted(e.ParticipantID, e.IsMuted) {
		c.changed()
	}

	return nil
}

func (c *Controller) handleHand(raised bool) func(context.Context, event.ParticipantRef) error {
	return func(_ context.Context, e event.ParticipantRef) error {
		if e.ParticipantID == nil {
			return malformed("hand event without participant_id")
		}

		if c.store.ApplyHandChanged(*e.ParticipantID, raised) {
			c.changed()
		}

		return nil
	}
}

func (c *Controller) handleChat(_ context.Context, e event.Chat) error {
	in := store.IncomingChat{
		SenderName: e.SenderName,
		Text:       e.Body(),
	}
	if origin, ok := e.Origin(); ok {
		in.SenderID = &origin
	}

	if _, appended := c.store.ApplyChatMessage(in); appended {
		c.changed()
	}

	return nil
}

// handleKicked terminates when the event is unaddressed or names us. With
// another id it is that participant's removal.
func (c *Controller) handleKicked(ctx context.Context, e event.ParticipantRef) error {
	if e.ParticipantID != nil && !c.store.Self().Is(*e.ParticipantID) {
		c.removeParticipant(ctx, *e.ParticipantID)
		return nil
	}

	if e.Reason != "" {
		c.notice(ctx, e.Reason)
	}
	c.terminate(ctx, ReasonKicked)

	return nil
}

func (c *Controller) handleSessionEnding(ctx context.Context, e event.Notice) error {
	c.store.SetPhase(domain.PhaseEnding)
	c.changed()

	msg := e.Text()
	if msg == "" {
		msg = "the session is ending"
	}
	c.notice(ctx, msg)

	return nil
}

func (c *Controller) handleSessionEnded(ctx context.Context, _ event.Notice) error {
	c.store.SetPhase(domain.PhaseEnded)
	c.changed()
	c.terminate(ctx, ReasonSessionEnded)

	return nil
}

// handleDisconnected is the server soft-closing our stream. The transport
// reconnects on its own.
func (c *Controller) handleDisconnected(ctx context.Context, e event.Notice) error {
	msg := e.Text()
	if msg == "" {
		msg = "disconnected by server"
	}
	c.notice(ctx, msg)

	return nil
}

func (c *Controller) handleSignal(ctx context.Context, e event.WebRTCSignal) error {
	if e.From == nil || *e.From < 1 {
		return malformed("webrtc_signal without from")
	}
	if e.To != nil {
		if self, ok := c.store.Self().ID(); ok && self != *e.To {
			c.logger.DebugContext(ctx, "ignoring signal addressed to another participant", "to", *e.To)
			return nil
		}
	}

	return c.peers.HandleSignal(ctx, *e.From, e.Payload)
}

func transportPatch(eventType string, e event.Transport) store.TransportPatch {
	patch := store.TransportPatch{
		AudioID:  e.AudioID,
		Title:    e.Title,
		Speed:    e.Speed,
		Position: e.Position,
		Duration: e.Duration,
		Playing:  e.ResumePlaying,
	}

	switch eventType {
	case event.TypeAudioSelected:
		stopped, start := false, 0.0
		patch.Playing = &stopped
		if patch.Position == nil {
			patch.Position = &start
		}
	case event.TypeAudioPlay:
		playing := true
		patch.Playing = &playing
	case event.TypeAudioPause:
		paused := false
		patch.Playing = &paused
	}

	return patch
}

func (c *Controller) handleTransport(ctx context.Context, e event.Transport) error {
	patch := transportPatch(eventrouter.GetEventTypeFromCtx(ctx), e)
	st := c.store.ApplyTransportEvent(patch)

	c.savePlayback(st)
	c.lookupAudio(ctx, st)
	c.changed()

	if err := c.audio.Apply(ctx, st); err != nil {
		return fmt.Errorf("failed to apply transport: %w", err)
	}

	return nil
}

func (c *Controller) handleError(ctx context.Context, e event.Notice) error {
	msg := e.Text()
	if msg == "" {
		msg = "server reported an error"
	}
	c.logger.WarnContext(ctx, "server error", "detail", msg)
	c.notes.emit(repository.Notification{Kind: repository.NotifyNotice, Message: msg})

	return nil
}

func (c *Controller) handleUnknown(ctx context.Context, _ json.RawMessage) error {
	c.logger.InfoContext(ctx, "ignoring unknown event type")
	return nil
}
