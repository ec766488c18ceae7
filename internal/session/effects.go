package session

import (
	"context"
	"fmt"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/peer"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/sharetube/classroom/internal/store"
)

func (c *Controller) savePlayback(st domain.TransportState) {
	if c.deps.Mirror != nil {
		c.mirror.push(st)
	}
}

func (c *Controller) writeMirror(ctx context.Context, st domain.TransportState) {
	if err := c.deps.Mirror.SavePlayback(ctx, c.cfg.SessionID, st); err != nil {
		c.logger.WarnContext(ctx, "failed to mirror playback", "error", err)
	}
}

func (c *Controller) writeJournal(ctx context.Context, entry repository.JournalEntry) {
	for _, j := range c.deps.Journals {
		if err := j.Record(ctx, entry); err != nil {
			c.logger.WarnContext(ctx, "failed to record journal entry", "event_type", entry.EventType, "error", err)
		}
	}
}

func (c *Controller) restorePlayback(ctx context.Context, st domain.TransportState) {
	c.savePlayback(st)
	c.lookupAudio(ctx, st)
	if err := c.audio.Restore(ctx, st); err != nil {
		c.logger.WarnContext(ctx, "failed to restore playback", "error", err)
	}
}

// recoverPlayback asks the backend for the shared transport when a snapshot
// came without one. A transport event that lands first wins.
func (c *Controller) recoverPlayback(ctx context.Context) {
	go func() {
		state, err := c.deps.Backend.PlaybackState(ctx)
		if err != nil {
			c.logger.DebugContext(ctx, "failed to get playback state", "error", err)
			return
		}
		if state.AudioID == nil {
			return
		}

		c.loop.Post(func() {
			if c.store.Transport().HasAudio() {
				return
			}

			playing := state.IsPlaying()
			st := c.store.ApplyTransportEvent(store.TransportPatch{
				AudioID:  state.AudioID,
				Title:    state.Title,
				Speed:    &state.Speed,
				Position: &state.Position,
				Duration: state.Duration,
				Playing:  &playing,
			})
			c.restorePlayback(ctx, st)
			c.changed()
		})
	}()
}

// lookupAudio fetches title and duration when a transport event lacked
// them. Each audio id is looked up at most once per session.
func (c *Controller) lookupAudio(ctx context.Context, st domain.TransportState) {
	if !st.HasAudio() || (st.Title != "" && st.Duration != nil) {
		return
	}
	if _, ok := c.lookups[st.AudioID]; ok {
		return
	}
	c.lookups[st.AudioID] = struct{}{}

	id := st.AudioID
	go func() {
		info, err := c.deps.Backend.AudioInfo(ctx, id)
		if err != nil {
			c.logger.DebugContext(ctx, "failed to look up audio", "audio_id", id, "error", err)
			return
		}

		c.loop.Post(func() {
			current := c.store.Transport()
			if current.AudioID != id {
				return
			}

			var patch store.TransportPatch
			if current.Title == "" && info.Title != "" {
				patch.Title = &info.Title
			}
			if current.Duration == nil {
				patch.Duration = info.Duration
			}
			c.store.ApplyTransportEvent(patch)
			c.audio.Describe(id, info.Title, info.Duration)
			c.changed()
		})
	}()
}

// displayChanged records a duration learned from local playback when the
// server did not send one.
func (c *Controller) displayChanged(d domain.TransportState) {
	if d.Duration == nil || !d.HasAudio() {
		return
	}

	st := c.store.Transport()
	if st.AudioID != d.AudioID || st.Duration != nil {
		return
	}

	id, duration := d.AudioID, *d.Duration
	// the hook may fire on the loop itself
	go c.loop.Post(func() {
		st := c.store.Transport()
		if st.AudioID != id || st.Duration != nil {
			return
		}
		c.store.SetDuration(duration)
		c.changed()
	})
}

func (c *Controller) playbackFault(err error) {
	c.notes.emit(repository.Notification{
		Kind:    repository.NotifyNotice,
		Message: fmt.Sprintf("playback stopped: %v", err),
	})
}

func (c *Controller) peerStateChanged(remote domain.ParticipantID, state peer.State) {
	c.logger.Info("peer state changed", "remote_participant_id", remote, "state", state)

	c.notes.emit(repository.Notification{
		Kind:      repository.NotifyPeer,
		RemoteID:  &remote,
		PeerState: string(state),
	})
}
