package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sharetube/classroom/internal/domain"
)

type Hooks struct {
	// OnDisplay fires whenever the locally displayed transport changes.
	OnDisplay func(domain.TransportState)
	OnFault   func(error)
}

// Synchronizer keeps the local engine in line with the server transport
// state and owns the teacher transport controls.
type Synchronizer struct {
	logger    *slog.Logger
	engine    Engine
	poster    ControlPoster
	streamURL func(domain.AudioID) string
	role      domain.Role
	hooks     Hooks

	mu         sync.Mutex
	display    domain.TransportState
	seeking    bool
	seekTarget float64
}

func NewSynchronizer(role domain.Role, engine Engine, poster ControlPoster, streamURL func(domain.AudioID) string, logger *slog.Logger, hooks Hooks) *Synchronizer {
	if hooks.OnDisplay == nil {
		hooks.OnDisplay = func(domain.TransportState) {}
	}
	if hooks.OnFault == nil {
		hooks.OnFault = func(error) {}
	}

	s := &Synchronizer{
		logger:    logger,
		engine:    engine,
		poster:    poster,
		streamURL: streamURL,
		role:      role,
		hooks:     hooks,
		display:   domain.NewTransportState(),
	}

	engine.OnProgress(s.progress)
	engine.OnFault(s.fault)

	return s
}

func (s *Synchronizer) Display() domain.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.display
}

func (s *Synchronizer) Seeking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seeking
}

func (s *Synchronizer) update(fn func(d *domain.TransportState)) domain.TransportState {
	s.mu.Lock()
	fn(&s.display)
	d := s.display
	s.mu.Unlock()

	s.hooks.OnDisplay(d)

	return d
}

func (s *Synchronizer) canControl() error {
	if s.role != domain.RoleTeacher {
		return ErrPermissionDenied
	}

	return nil
}

func (s *Synchronizer) selected() (domain.TransportState, error) {
	if err := s.canControl(); err != nil {
		return domain.TransportState{}, err
	}

	d := s.Display()
	if !d.HasAudio() {
		return domain.TransportState{}, ErrNoAudioSelected
	}

	return d, nil
}

// request builds the control request for the display d and validates it
// before anything leaves the process.
func (s *Synchronizer) request(ctx context.Context, action ControlAction, d domain.TransportState) (*ControlRequest, error) {
	id := d.AudioID
	req := &ControlRequest{
		Action:   action,
		AudioID:  &id,
		Speed:    d.Speed,
		Position: d.Position,
	}

	if err := req.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid audio control: %w", err)
	}

	return req, nil
}

// Publish posts a control produced by one of the Apply* methods. A nil
// request has nothing to tell the server.
func (s *Synchronizer) Publish(ctx context.Context, req *ControlRequest) error {
	if req == nil {
		return nil
	}

	if err := s.poster.PostAudioControl(ctx, *req); err != nil {
		return fmt.Errorf("failed to post audio control: %w", err)
	}

	return nil
}

// start restarts the engine on audio id at position.
func (s *Synchronizer) start(ctx context.Context, id domain.AudioID, speed, position float64) error {
	if err := s.engine.Stop(); err != nil {
		return err
	}
	if err := s.engine.SetRate(speed); err != nil {
		return err
	}
	if err := s.engine.Play(ctx, s.streamURL(id), speed); err != nil {
		return err
	}
	if position > 0 {
		return s.engine.Seek(position)
	}

	return nil
}

func (s *Synchronizer) Select(ctx context.Context, id domain.AudioID) error {
	if err := s.canControl(); err != nil {
		return err
	}

	if err := s.poster.SelectAudio(ctx, id); err != nil {
		return fmt.Errorf("failed to select audio: %w", err)
	}

	return nil
}

// ApplyPlay resumes the selected audio locally and returns the control to
// publish.
func (s *Synchronizer) ApplyPlay(ctx context.Context) (*ControlRequest, error) {
	d, err := s.selected()
	if err != nil {
		return nil, err
	}

	if err := s.start(ctx, d.AudioID, d.Speed, d.Position); err != nil {
		s.fault(err)
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	d = s.update(func(d *domain.TransportState) {
		d.Playing = true
	})

	return s.request(ctx, ActionPlay, d)
}

func (s *Synchronizer) ApplyPause(ctx context.Context) (*ControlRequest, error) {
	d, err := s.selected()
	if err != nil {
		return nil, err
	}

	position := d.Position
	if d.Playing {
		position = s.engine.Position()
	}
	if err := s.engine.Pause(); err != nil {
		return nil, fmt.Errorf("failed to pause playback: %w", err)
	}

	d = s.update(func(d *domain.TransportState) {
		d.Playing = false
		d.Position = d.ClampPosition(position)
	})

	return s.request(ctx, ActionPause, d)
}

func (s *Synchronizer) ApplySeek(ctx context.Context, position float64) (*ControlRequest, error) {
	d, err := s.selected()
	if err != nil {
		return nil, err
	}

	position = d.ClampPosition(position)
	if err := s.engine.Seek(position); err != nil {
		return nil, fmt.Errorf("failed to seek: %w", err)
	}

	d = s.update(func(d *domain.TransportState) {
		d.Position = position
	})

	return s.request(ctx, ActionSeek, d)
}

// ApplySpeed changes the rate and carries the live position. The control
// is play while playing and seek while paused, and nil with no audio.
func (s *Synchronizer) ApplySpeed(ctx context.Context, speed float64) (*ControlRequest, error) {
	if err := s.canControl(); err != nil {
		return nil, err
	}
	if !domain.ValidSpeed(speed) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}

	d := s.Display()
	position := d.Position
	if d.Playing {
		position = s.engine.Position()
	}

	if err := s.engine.SetRate(speed); err != nil {
		return nil, fmt.Errorf("failed to set rate: %w", err)
	}

	d = s.update(func(d *domain.TransportState) {
		d.Speed = speed
		d.Position = d.ClampPosition(position)
	})

	if !d.HasAudio() {
		return nil, nil
	}

	action := ActionSeek
	if d.Playing {
		action = ActionPlay
	}

	return s.request(ctx, action, d)
}

func (s *Synchronizer) Play(ctx context.Context) error {
	req, err := s.ApplyPlay(ctx)
	if err != nil {
		return err
	}

	return s.Publish(ctx, req)
}

func (s *Synchronizer) Pause(ctx context.Context) error {
	req, err := s.ApplyPause(ctx)
	if err != nil {
		return err
	}

	return s.Publish(ctx, req)
}

func (s *Synchronizer) Seek(ctx context.Context, position float64) error {
	req, err := s.ApplySeek(ctx, position)
	if err != nil {
		return err
	}

	return s.Publish(ctx, req)
}

func (s *Synchronizer) SetSpeed(ctx context.Context, speed float64) error {
	req, err := s.ApplySpeed(ctx, speed)
	if err != nil {
		return err
	}

	return s.Publish(ctx, req)
}

// BeginSeek starts a seek gesture. Engine progress is ignored until
// EndSeek so it cannot fight the drag value.
func (s *Synchronizer) BeginSeek() error {
	if err := s.canControl(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seeking = true
	s.seekTarget = s.display.Position

	return nil
}

func (s *Synchronizer) UpdateSeek(position float64) {
	s.mu.Lock()
	if !s.seeking {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.update(func(d *domain.TransportState) {
		s.seekTarget = d.ClampPosition(position)
		d.Position = s.seekTarget
	})
}

// FinishSeek ends the gesture and returns the position to seek to. It
// reports false when no gesture was in progress.
func (s *Synchronizer) FinishSeek() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeking {
		return 0, false
	}
	s.seeking = false

	return s.seekTarget, true
}

func (s *Synchronizer) EndSeek(ctx context.Context) error {
	target, ok := s.FinishSeek()
	if !ok {
		return nil
	}

	return s.Seek(ctx, target)
}

// Apply treats st as authoritative: stop, set rate, restream and reseek.
func (s *Synchronizer) Apply(ctx context.Context, st domain.TransportState) error {
	s.update(func(d *domain.TransportState) {
		position := d.Position
		*d = st
		if s.seeking {
			d.Position = position
		}
	})

	if !st.HasAudio() || !st.Playing {
		if err := s.engine.Stop(); err != nil {
			return fmt.Errorf("failed to stop playback: %w", err)
		}
		return s.engine.Seek(st.ClampPosition(st.Position))
	}

	if err := s.start(ctx, st.AudioID, st.Speed, st.ClampPosition(st.Position)); err != nil {
		s.fault(err)
		return fmt.Errorf("failed to follow transport: %w", err)
	}

	return nil
}

// Restore is used after a snapshot. Playback resumes only when the
// snapshot says audio is playing.
func (s *Synchronizer) Restore(ctx context.Context, st domain.TransportState) error {
	if st.Playing && st.HasAudio() {
		return s.Apply(ctx, st)
	}

	s.update(func(d *domain.TransportState) {
		*d = st
	})

	return nil
}

// Describe fills in metadata learned after the transport event arrived.
// It is ignored when another audio has been selected since.
func (s *Synchronizer) Describe(id domain.AudioID, title string, duration *float64) {
	s.mu.Lock()
	current := s.display.AudioID
	s.mu.Unlock()

	if current != id {
		return
	}

	s.update(func(d *domain.TransportState) {
		if d.Title == "" {
			d.Title = title
		}
		if d.Duration == nil && duration != nil && *duration > 0 {
			v := *duration
			d.Duration = &v
		}
	})
}

// Stop halts the engine during teardown.
func (s *Synchronizer) Stop() error {
	return s.engine.Stop()
}

func (s *Synchronizer) progress(p Progress) {
	s.mu.Lock()
	if s.seeking {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.update(func(d *domain.TransportState) {
		if p.Duration > 0 {
			duration := p.Duration
			d.Duration = &duration
		}
		d.Position = d.ClampPosition(p.Position)
	})
}

// fault resets the playing flag. There is no retry.
func (s *Synchronizer) fault(err error) {
	s.logger.Warn("playback stopped after fault", "error", err)

	s.update(func(d *domain.TransportState) {
		d.Playing = false
	})
	s.hooks.OnFault(err)
}
