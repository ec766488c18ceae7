package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	position   float64
	playErr    error
	onProgress func(Progress)
	onFault    func(error)
}

func (e *fakeEngine) record(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) Play(_ context.Context, url string, rate float64) error {
	e.record("play %s %g", url, rate)
	return e.playErr
}

func (e *fakeEngine) Seek(position float64) error {
	e.record("seek %g", position)
	return nil
}

func (e *fakeEngine) Pause() error {
	e.record("pause")
	return nil
}

func (e *fakeEngine) Stop() error {
	e.record("stop")
	return nil
}

func (e *fakeEngine) SetRate(rate float64) error {
	e.record("rate %g", rate)
	return nil
}

func (e *fakeEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.position
}

func (e *fakeEngine) OnProgress(fn func(Progress)) { e.onProgress = fn }
func (e *fakeEngine) OnFault(fn func(error))       { e.onFault = fn }

func (e *fakeEngine) setPosition(p float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.position = p
}

func (e *fakeEngine) callLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	calls := e.calls
	e.calls = nil
	return calls
}

type fakePoster struct {
	mu       sync.Mutex
	requests []ControlRequest
	selected []domain.AudioID
	err      error
}

func (p *fakePoster) PostAudioControl(_ context.Context, req ControlRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	return p.err
}

func (p *fakePoster) SelectAudio(_ context.Context, id domain.AudioID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.selected = append(p.selected, id)
	return p.err
}

func (p *fakePoster) posted() []ControlRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]ControlRequest(nil), p.requests...)
}

func streamURL(id domain.AudioID) string {
	return fmt.Sprintf("http://backend/audio/%d/stream", id)
}

func newTestSynchronizer(role domain.Role) (*Synchronizer, *fakeEngine, *fakePoster) {
	engine := &fakeEngine{}
	poster := &fakePoster{}
	s := NewSynchronizer(role, engine, poster, streamURL, testLogger(), Hooks{})

	return s, engine, poster
}

func audioID(id domain.AudioID) *domain.AudioID {
	return &id
}

func playing(id domain.AudioID, speed, position float64) domain.TransportState {
	return domain.TransportState{AudioID: id, Speed: speed, Position: position, Playing: true}
}

func TestStudentCannotControlTransport(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleStudent)
	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))
	engine.callLog()

	ctx := context.Background()
	assert.ErrorIs(t, s.Play(ctx), ErrPermissionDenied)
	assert.ErrorIs(t, s.Pause(ctx), ErrPermissionDenied)
	assert.ErrorIs(t, s.Seek(ctx, 10), ErrPermissionDenied)
	assert.ErrorIs(t, s.SetSpeed(ctx, 1.5), ErrPermissionDenied)
	assert.ErrorIs(t, s.BeginSeek(), ErrPermissionDenied)
	assert.ErrorIs(t, s.Select(ctx, 3), ErrPermissionDenied)

	assert.Empty(t, poster.posted())
	assert.Empty(t, engine.callLog())
}

func TestTeacherNeedsSelectedAudio(t *testing.T) {
	s, _, poster := newTestSynchronizer(domain.RoleTeacher)

	assert.ErrorIs(t, s.Play(context.Background()), ErrNoAudioSelected)
	assert.ErrorIs(t, s.Seek(context.Background(), 3), ErrNoAudioSelected)
	assert.Empty(t, poster.posted())

	// speed without audio only changes the local rate
	require.NoError(t, s.SetSpeed(context.Background(), 2))
	assert.Equal(t, 2.0, s.Display().Speed)
	assert.Empty(t, poster.posted())
}

func TestTeacherPlayIsOptimistic(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	require.NoError(t, s.Restore(context.Background(), domain.TransportState{AudioID: 7, Speed: 1, Position: 12}))
	engine.callLog()

	require.NoError(t, s.Play(context.Background()))

	assert.Equal(t, []string{"stop", "rate 1", "play http://backend/audio/7/stream 1", "seek 12"}, engine.callLog())
	assert.True(t, s.Display().Playing)
	assert.Equal(t, []ControlRequest{{Action: ActionPlay, AudioID: audioID(7), Speed: 1, Position: 12}}, poster.posted())
}

func TestTeacherPauseUsesLivePosition(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))
	engine.setPosition(33)

	require.NoError(t, s.Pause(context.Background()))

	assert.False(t, s.Display().Playing)
	assert.Equal(t, []ControlRequest{{Action: ActionPause, AudioID: audioID(7), Speed: 1, Position: 33}}, poster.posted())
}

func TestSpeedChangeCarriesPosition(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))
	engine.setPosition(42.5)

	require.NoError(t, s.SetSpeed(context.Background(), 1.5))

	require.Len(t, poster.posted(), 1)
	req := poster.posted()[0]
	assert.Equal(t, ActionPlay, req.Action)
	assert.Equal(t, 1.5, req.Speed)
	assert.InDelta(t, 42.5, req.Position, 0.01)
	assert.NotZero(t, req.Position)
}

func TestSpeedChangeWhilePausedPostsSeek(t *testing.T) {
	s, _, poster := newTestSynchronizer(domain.RoleTeacher)
	require.NoError(t, s.Restore(context.Background(), domain.TransportState{AudioID: 7, Speed: 1, Position: 10}))

	require.NoError(t, s.SetSpeed(context.Background(), 0.5))

	assert.Equal(t, []ControlRequest{{Action: ActionSeek, AudioID: audioID(7), Speed: 0.5, Position: 10}}, poster.posted())
}

func TestApplyChangesLocallyWithoutPosting(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	ctx := context.Background()
	require.NoError(t, s.Apply(ctx, playing(7, 1, 0)))
	engine.callLog()
	engine.setPosition(20)

	req, err := s.ApplyPause(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pause"}, engine.callLog())
	assert.False(t, s.Display().Playing)
	assert.Empty(t, poster.posted())

	require.NoError(t, s.Publish(ctx, req))
	assert.Equal(t, []ControlRequest{{Action: ActionPause, AudioID: audioID(7), Speed: 1, Position: 20}}, poster.posted())
}

func TestApplySpeedWithoutAudioHasNothingToPublish(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	ctx := context.Background()

	req, err := s.ApplySpeed(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Equal(t, 2.0, s.Display().Speed)
	assert.Equal(t, []string{"rate 2"}, engine.callLog())

	require.NoError(t, s.Publish(ctx, req))
	assert.Empty(t, poster.posted())
}

func TestSpeedBounds(t *testing.T) {
	s, _, poster := newTestSynchronizer(domain.RoleTeacher)

	assert.ErrorIs(t, s.SetSpeed(context.Background(), 0.2), ErrInvalidSpeed)
	assert.ErrorIs(t, s.SetSpeed(context.Background(), 3.5), ErrInvalidSpeed)
	assert.NoError(t, s.SetSpeed(context.Background(), 0.25))
	assert.NoError(t, s.SetSpeed(context.Background(), 3.0))
	assert.Empty(t, poster.posted())
}

func TestApplyFollowsServer(t *testing.T) {
	s, engine, _ := newTestSynchronizer(domain.RoleStudent)

	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))
	assert.Equal(t, []string{"stop", "rate 1", "play http://backend/audio/7/stream 1"}, engine.callLog())
	assert.Equal(t, playing(7, 1, 0), s.Display())

	require.NoError(t, s.Apply(context.Background(), playing(7, 1.25, 30)))
	assert.Equal(t, []string{"stop", "rate 1.25", "play http://backend/audio/7/stream 1.25", "seek 30"}, engine.callLog())

	paused := domain.TransportState{AudioID: 7, Speed: 1.25, Position: 31}
	require.NoError(t, s.Apply(context.Background(), paused))
	assert.Equal(t, []string{"stop", "seek 31"}, engine.callLog())
	assert.False(t, s.Display().Playing)
}

func TestRestoreOnlyResumesWhenPlaying(t *testing.T) {
	s, engine, _ := newTestSynchronizer(domain.RoleStudent)

	require.NoError(t, s.Restore(context.Background(), domain.TransportState{AudioID: 7, Speed: 1, Position: 5}))
	assert.Empty(t, engine.callLog())
	assert.Equal(t, 5.0, s.Display().Position)

	require.NoError(t, s.Restore(context.Background(), playing(7, 1, 5)))
	assert.Equal(t, []string{"stop", "rate 1", "play http://backend/audio/7/stream 1", "seek 5"}, engine.callLog())
}

func TestSeekGestureSuppressesProgress(t *testing.T) {
	s, engine, poster := newTestSynchronizer(domain.RoleTeacher)
	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))

	engine.onProgress(Progress{Position: 5, Duration: 100})
	assert.Equal(t, 5.0, s.Display().Position)

	require.NoError(t, s.BeginSeek())
	s.UpdateSeek(60)
	engine.onProgress(Progress{Position: 6, Duration: 100})
	assert.Equal(t, 60.0, s.Display().Position)
	assert.True(t, s.Seeking())

	// a remote transport event keeps the drag value too
	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 7)))
	assert.Equal(t, 60.0, s.Display().Position)

	require.NoError(t, s.EndSeek(context.Background()))
	assert.False(t, s.Seeking())
	assert.Equal(t, []ControlRequest{{Action: ActionSeek, AudioID: audioID(7), Speed: 1, Position: 60}}, poster.posted())

	engine.onProgress(Progress{Position: 61, Duration: 100})
	assert.Equal(t, 61.0, s.Display().Position)
	require.NotNil(t, s.Display().Duration)
	assert.Equal(t, 100.0, *s.Display().Duration)

	// EndSeek without a gesture does nothing
	require.NoError(t, s.EndSeek(context.Background()))
	assert.Len(t, poster.posted(), 1)
}

func TestPlaybackFaultResetsPlaying(t *testing.T) {
	var faults []error
	engine := &fakeEngine{}
	s := NewSynchronizer(domain.RoleStudent, engine, &fakePoster{}, streamURL, testLogger(), Hooks{
		OnFault: func(err error) { faults = append(faults, err) },
	})

	require.NoError(t, s.Apply(context.Background(), playing(7, 1, 0)))
	engine.callLog()

	engine.onFault(errors.New("decode error"))
	assert.False(t, s.Display().Playing)
	require.Len(t, faults, 1)

	// no retry
	assert.Empty(t, engine.callLog())

	engine.playErr = errors.New("no route")
	assert.Error(t, s.Apply(context.Background(), playing(7, 1, 0)))
	assert.False(t, s.Display().Playing)
	assert.Len(t, faults, 2)
}

func TestPostFailureIsReturned(t *testing.T) {
	s, _, poster := newTestSynchronizer(domain.RoleTeacher)
	poster.err = errors.New("503")
	require.NoError(t, s.Restore(context.Background(), domain.TransportState{AudioID: 7, Speed: 1}))

	err := s.Play(context.Background())
	assert.ErrorContains(t, err, "failed to post audio control")
	assert.True(t, s.Display().Playing)
}

func TestControlRequestValidate(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, ControlRequest{Action: ActionPlay, AudioID: audioID(7), Speed: 1}.Validate(ctx))
	assert.NoError(t, ControlRequest{Action: ActionPause, Speed: 0.25, Position: 3}.Validate(ctx))

	assert.Error(t, ControlRequest{Action: "rewind", Speed: 1}.Validate(ctx))
	assert.Error(t, ControlRequest{Action: ActionPlay, Speed: 1}.Validate(ctx))
	assert.Error(t, ControlRequest{Action: ActionSeek, AudioID: audioID(7)}.Validate(ctx))
	assert.Error(t, ControlRequest{Action: ActionSeek, AudioID: audioID(7), Speed: 3.5}.Validate(ctx))
	assert.Error(t, ControlRequest{Action: ActionSeek, AudioID: audioID(7), Speed: 1, Position: -1}.Validate(ctx))
}

func TestDescribeFillsMissingMetadata(t *testing.T) {
	s, _, _ := newTestSynchronizer(domain.RoleStudent)
	require.NoError(t, s.Restore(context.Background(), domain.TransportState{AudioID: 7, Speed: 1}))

	duration := 120.0
	s.Describe(8, "other", &duration)
	assert.Empty(t, s.Display().Title)

	s.Describe(7, "Lesson 7", &duration)
	d := s.Display()
	assert.Equal(t, "Lesson 7", d.Title)
	require.NotNil(t, d.Duration)
	assert.Equal(t, 120.0, *d.Duration)

	s.Describe(7, "renamed", nil)
	assert.Equal(t, "Lesson 7", s.Display().Title)
}
