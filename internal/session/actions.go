package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/event"
	"github.com/sharetube/classroom/internal/repository"
)

func (c *Controller) requireTeacher() error {
	if c.cfg.Role != domain.RoleTeacher {
		return ErrPermissionDenied
	}

	return nil
}

// send must run on the loop.
func (c *Controller) send(ctx context.Context, action event.Action) {
	c.deps.Channel.Send(ctx, action)
	c.recordLocal(action.Type(), action)
}

func (c *Controller) recordLocal(eventType string, details any) {
	if len(c.deps.Journals) == 0 {
		return
	}

	raw, err := json.Marshal(details)
	if err != nil {
		c.logger.Warn("failed to encode journal details", "event_type", eventType, "error", err)
		return
	}

	entry := repository.JournalEntry{
		SessionID: c.cfg.SessionID,
		EventType: eventType,
		Direction: repository.DirectionOutbound,
		Details:   raw,
		At:        c.now(),
	}
	if id, ok := c.store.Self().ID(); ok {
		entry.ParticipantID = &id
	}
	c.journal.push(entry)
}

// do runs fn on the dispatch loop once the session is ready.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	if err := c.active(); err != nil {
		return err
	}

	return c.loop.Do(ctx, fn)
}

func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	return c.do(ctx, func() error {
		c.muted = muted
		c.capture.SetMuted(muted)
		c.send(ctx, event.MuteSelf(muted))
		return nil
	})
}

// ToggleMute flips the local mute state and returns the new value.
func (c *Controller) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := c.do(ctx, func() error {
		muted = !c.muted
		c.muted = muted
		c.capture.SetMuted(muted)
		c.send(ctx, event.MuteSelf(muted))
		return nil
	})

	return muted, err
}

func (c *Controller) RaiseHand(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.send(ctx, event.RaiseHand())
		return nil
	})
}

func (c *Controller) LowerHand(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.send(ctx, event.LowerHand())
		return nil
	})
}

// SendChat shows the message locally right away. The server echo confirms
// it instead of adding a second copy.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	return c.do(ctx, func() error {
		c.store.AppendLocalChat(c.cfg.DisplayName, text)
		c.send(ctx, event.SendChat(text))
		c.changed()
		return nil
	})
}

func (c *Controller) MuteParticipant(ctx context.Context, target domain.ParticipantID, mute bool) error {
	if err := c.requireTeacher(); err != nil {
		return err
	}

	return c.do(ctx, func() error {
		if mute {
			c.send(ctx, event.MuteParticipant(target))
		} else {
			c.send(ctx, event.UnmuteParticipant(target))
		}
		return nil
	})
}

func (c *Controller) KickParticipant(ctx context.Context, target domain.ParticipantID) error {
	if err := c.requireTeacher(); err != nil {
		return err
	}

	return c.do(ctx, func() error {
		if c.store.Self().Is(target) {
			return fmt.Errorf("%w: cannot kick self", ErrPermissionDenied)
		}
		c.send(ctx, event.KickParticipant(target))
		return nil
	})
}

func (c *Controller) EndSession(ctx context.Context) error {
	if err := c.requireTeacher(); err != nil {
		return err
	}

	return c.do(ctx, func() error {
		c.send(ctx, event.EndSession())
		return nil
	})
}

// Transport controls change the engine and the display on the loop. Only
// the request to the backend runs off it, so a slow reply never holds up
// event dispatch.

func (c *Controller) SelectAudio(ctx context.Context, id domain.AudioID) error {
	if err := c.active(); err != nil {
		return err
	}
	if err := c.audio.Select(ctx, id); err != nil {
		return err
	}
	c.recordLocal("audio_select", map[string]any{"audio_id": id})

	return nil
}

// control runs apply on the loop and publishes its request afterwards.
func (c *Controller) control(ctx context.Context, eventType string, apply func() (*audio.ControlRequest, error)) error {
	var req *audio.ControlRequest
	err := c.do(ctx, func() error {
		var err error
		req, err = apply()
		return err
	})
	if err != nil {
		return err
	}

	if req == nil {
		return nil
	}
	if err := c.audio.Publish(ctx, req); err != nil {
		return err
	}
	c.recordControl(eventType)

	return nil
}

func (c *Controller) Play(ctx context.Context) error {
	return c.control(ctx, "audio_play", func() (*audio.ControlRequest, error) {
		return c.audio.ApplyPlay(ctx)
	})
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.control(ctx, "audio_pause", func() (*audio.ControlRequest, error) {
		return c.audio.ApplyPause(ctx)
	})
}

func (c *Controller) Seek(ctx context.Context, position float64) error {
	return c.control(ctx, "audio_seek", func() (*audio.ControlRequest, error) {
		return c.audio.ApplySeek(ctx, position)
	})
}

func (c *Controller) SetSpeed(ctx context.Context, speed float64) error {
	return c.control(ctx, "audio_speed_change", func() (*audio.ControlRequest, error) {
		return c.audio.ApplySpeed(ctx, speed)
	})
}

func (c *Controller) BeginSeek() error {
	if err := c.active(); err != nil {
		return err
	}

	return c.audio.BeginSeek()
}

func (c *Controller) UpdateSeek(position float64) {
	c.audio.UpdateSeek(position)
}

func (c *Controller) EndSeek(ctx context.Context) error {
	return c.control(ctx, "audio_seek", func() (*audio.ControlRequest, error) {
		target, ok := c.audio.FinishSeek()
		if !ok {
			return nil, nil
		}
		return c.audio.ApplySeek(ctx, target)
	})
}

func (c *Controller) recordControl(eventType string) {
	c.recordLocal(eventType, c.audio.Display())
}
