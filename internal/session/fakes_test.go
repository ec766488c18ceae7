package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/backend"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/event"
	"github.com/sharetube/classroom/internal/peer"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/sharetube/classroom/internal/transport"
	"github.com/sharetube/classroom/pkg/eventloop"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	mu       sync.Mutex
	identity *transport.Identity
	onEvent  transport.EventHandler
	sent     []event.Action
	closes   int
}

func (f *fakeChannel) Connect(_ context.Context, id transport.Identity, onEvent transport.EventHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.identity != nil {
		return transport.ErrAlreadyConnected
	}
	f.identity = &id
	f.onEvent = onEvent

	return nil
}

func (f *fakeChannel) Send(_ context.Context, action event.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, action)
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++
	return nil
}

func (f *fakeChannel) emit(raw string) {
	f.mu.Lock()
	onEvent := f.onEvent
	f.mu.Unlock()

	onEvent([]byte(raw))
}

func (f *fakeChannel) actions(actionType string) []event.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []event.Action
	for _, a := range f.sent {
		if a.Type() == actionType {
			out = append(out, a)
		}
	}

	return out
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closes
}

type fakeBackend struct {
	mu        sync.Mutex
	joinID    domain.ParticipantID
	joinErr   error
	joins     int
	controls  []audio.ControlRequest
	selected  []domain.AudioID
	audioInfo map[domain.AudioID]backend.AudioFile
	lookups   int
	playback  backend.PlaybackState
	// hold, when set, keeps PostAudioControl waiting until it is closed
	hold chan struct{}
}

func (b *fakeBackend) Join(context.Context) (domain.ParticipantID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.joins++
	return b.joinID, b.joinErr
}

func (b *fakeBackend) PostAudioControl(_ context.Context, req audio.ControlRequest) error {
	b.mu.Lock()
	hold := b.hold
	b.mu.Unlock()
	if hold != nil {
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.controls = append(b.controls, req)
	return nil
}

func (b *fakeBackend) SelectAudio(_ context.Context, id domain.AudioID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.selected = append(b.selected, id)
	return nil
}

func (b *fakeBackend) AudioInfo(_ context.Context, id domain.AudioID) (backend.AudioFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lookups++
	f, ok := b.audioInfo[id]
	if !ok {
		return backend.AudioFile{}, backend.ErrNotFound
	}

	return f, nil
}

func (b *fakeBackend) PlaybackState(context.Context) (backend.PlaybackState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.playback, nil
}

func (b *fakeBackend) posted() []audio.ControlRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]audio.ControlRequest(nil), b.controls...)
}

type nopEngine struct {
	mu    sync.Mutex
	plays []string
}

func (e *nopEngine) Play(_ context.Context, url string, _ float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.plays = append(e.plays, url)
	return nil
}

func (e *nopEngine) Seek(float64) error              { return nil }
func (e *nopEngine) Pause() error                    { return nil }
func (e *nopEngine) Stop() error                     { return nil }
func (e *nopEngine) SetRate(float64) error           { return nil }
func (e *nopEngine) Position() float64               { return 0 }
func (e *nopEngine) OnProgress(func(audio.Progress)) {}
func (e *nopEngine) OnFault(func(error))             {}

func (e *nopEngine) played() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string(nil), e.plays...)
}

type fakeCapture struct {
	mu     sync.Mutex
	muted  bool
	closes int
}

func (c *fakeCapture) Tracks() []webrtc.TrackLocal { return nil }

func (c *fakeCapture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = muted
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	return nil
}

func (c *fakeCapture) isMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.muted
}

// fakeConn completes every negotiation step immediately.
type fakeConn struct {
	mu     sync.Mutex
	remote domain.ParticipantID
	closed bool
}

func (c *fakeConn) CreateOffer() (peer.SessionDescription, error) {
	return peer.SessionDescription{Type: peer.SignalOffer, SDP: fmt.Sprintf("offer-to-%d", c.remote)}, nil
}

func (c *fakeConn) CreateAnswer() (peer.SessionDescription, error) {
	return peer.SessionDescription{Type: peer.SignalAnswer, SDP: fmt.Sprintf("answer-to-%d", c.remote)}, nil
}

func (c *fakeConn) SetLocalDescription(peer.SessionDescription) error  { return nil }
func (c *fakeConn) SetRemoteDescription(peer.SessionDescription) error { return nil }
func (c *fakeConn) AddICECandidate(peer.Candidate) error               { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

type fakeFactory struct {
	mu    sync.Mutex
	conns map[domain.ParticipantID][]*fakeConn
}

func (f *fakeFactory) NewConnection(remote domain.ParticipantID, _ peer.Callbacks) (peer.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conns == nil {
		f.conns = make(map[domain.ParticipantID][]*fakeConn)
	}
	conn := &fakeConn{remote: remote}
	f.conns[remote] = append(f.conns[remote], conn)

	return conn, nil
}

func (f *fakeFactory) created(remote domain.ParticipantID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.conns[remote])
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []repository.JournalEntry
}

func (j *fakeJournal) Record(_ context.Context, entry repository.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, entry)
	return nil
}

func (j *fakeJournal) types(dir repository.Direction) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []string
	for _, e := range j.entries {
		if e.Direction == dir {
			out = append(out, e.EventType)
		}
	}

	return out
}

type fakeMirror struct {
	mu    sync.Mutex
	saved []domain.TransportState
}

func (m *fakeMirror) SavePlayback(_ context.Context, _ domain.SessionID, st domain.TransportState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = append(m.saved, st)
	return nil
}

func (m *fakeMirror) last() (domain.TransportState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.saved) == 0 {
		return domain.TransportState{}, false
	}

	return m.saved[len(m.saved)-1], true
}

type harness struct {
	c       *Controller
	channel *fakeChannel
	backend *fakeBackend
	engine  *nopEngine
	capture *fakeCapture
	factory *fakeFactory
	journal *fakeJournal
	mirror  *fakeMirror
}

type harnessOption func(*Config, *Deps, *harness)

func withCaptureError(err error) harnessOption {
	return func(_ *Config, d *Deps, _ *harness) {
		d.OpenCapture = func(context.Context) (Capture, error) {
			return nil, err
		}
	}
}

func withJoin(id domain.ParticipantID, err error) harnessOption {
	return func(cfg *Config, _ *Deps, h *harness) {
		cfg.JoinOnStart = true
		h.backend.joinID = id
		h.backend.joinErr = err
	}
}

func newHarness(t *testing.T, role domain.Role, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		channel: &fakeChannel{},
		backend: &fakeBackend{audioInfo: map[domain.AudioID]backend.AudioFile{}},
		engine:  &nopEngine{},
		capture: &fakeCapture{},
		factory: &fakeFactory{},
		journal: &fakeJournal{},
		mirror:  &fakeMirror{},
	}

	cfg := Config{
		SessionID:   10,
		UserID:      100,
		Role:        role,
		DisplayName: "me",
		Peer:        peer.Config{ICEDebounce: 20 * time.Millisecond},
	}
	deps := Deps{
		Channel: h.channel,
		Backend: h.backend,
		Engine:  h.engine,
		StreamURL: func(id domain.AudioID) string {
			return fmt.Sprintf("http://backend/audio/%d/stream", id)
		},
		OpenCapture: func(context.Context) (Capture, error) {
			return h.capture, nil
		},
		NewFactory: func([]webrtc.TrackLocal) (peer.Factory, error) {
			return h.factory, nil
		},
		Journals: []Journal{h.journal},
		Mirror:   h.mirror,
	}
	for _, opt := range opts {
		opt(&cfg, &deps, h)
	}

	c, err := New(cfg, deps, testLogger())
	require.NoError(t, err)
	h.c = c
	t.Cleanup(func() { c.Close() })

	return h
}

// start initializes and brings the session to ready with self as selfID.
func (h *harness) start(t *testing.T, selfID domain.ParticipantID, snapshot string) {
	t.Helper()

	require.NoError(t, h.c.Initialize(context.Background()))
	h.channel.emit(fmt.Sprintf(`{"type":"connected","participant_id":%d}`, selfID))
	h.channel.emit(snapshot)
	h.flush(t)

	select {
	case <-h.c.Ready():
	default:
		t.Fatal("session is not ready after the first snapshot")
	}
}

// flush waits until every event queued so far has been dispatched.
func (h *harness) flush(t *testing.T) {
	t.Helper()

	err := h.c.loop.Do(context.Background(), func() error { return nil })
	if errors.Is(err, eventloop.ErrStopped) {
		return
	}
	require.NoError(t, err)
}

func (h *harness) emit(t *testing.T, raw string) {
	t.Helper()

	h.channel.emit(raw)
	h.flush(t)
}
