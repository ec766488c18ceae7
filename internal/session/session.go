package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/backend"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/peer"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/sharetube/classroom/internal/store"
	"github.com/sharetube/classroom/internal/transport"
	"github.com/sharetube/classroom/pkg/eventloop"
	"github.com/sharetube/classroom/pkg/eventrouter"
)

var (
	ErrMediaUnavailable   = errors.New("local audio capture unavailable")
	ErrJoinFailed         = errors.New("failed to join session")
	ErrNotReady           = errors.New("session is not ready")
	ErrTerminated         = errors.New("session terminated")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrPermissionDenied   = audio.ErrPermissionDenied
	ErrEmptyMessage       = errors.New("message is empty")
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonKicked       Reason = "kicked"
	ReasonSessionEnded Reason = "session_ended"
	ReasonClosed       Reason = "closed"
	ReasonFailed       Reason = "initialize_failed"
)

type Config struct {
	SessionID   domain.SessionID `json:"session_id"`
	UserID      domain.UserID    `json:"user_id"`
	Role        domain.Role      `json:"role"`
	DisplayName string           `json:"display_name"`
	JoinOnStart bool             `json:"join_on_start"`
	QueueSize   int              `json:"queue_size"`
	Peer        peer.Config      `json:"peer"`
}

// Capture is the local outgoing audio.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	SetMuted(muted bool)
	Close() error
}

// Backend is the request/response side of the server used by one session.
type Backend interface {
	audio.ControlPoster
	Join(ctx context.Context) (domain.ParticipantID, error)
	AudioInfo(ctx context.Context, id domain.AudioID) (backend.AudioFile, error)
	PlaybackState(ctx context.Context) (backend.PlaybackState, error)
}

type Journal interface {
	Record(ctx context.Context, entry repository.JournalEntry) error
}

type PlaybackMirror interface {
	SavePlayback(ctx context.Context, session domain.SessionID, st domain.TransportState) error
}

type Observer interface {
	Publish(ctx context.Context, n repository.Notification) error
}

type Deps struct {
	Channel     transport.Channel
	Backend     Backend
	Engine      audio.Engine
	StreamURL   func(domain.AudioID) string
	OpenCapture func(ctx context.Context) (Capture, error)
	NewFactory  func(tracks []webrtc.TrackLocal) (peer.Factory, error)

	// optional
	Journals  []Journal
	Mirror    PlaybackMirror
	Observers []Observer
}

func (d Deps) validate() error {
	switch {
	case d.Channel == nil:
		return errors.New("transport channel is required")
	case d.Backend == nil:
		return errors.New("backend is required")
	case d.Engine == nil:
		return errors.New("playback engine is required")
	case d.StreamURL == nil:
		return errors.New("stream url builder is required")
	case d.OpenCapture == nil:
		return errors.New("capture opener is required")
	case d.NewFactory == nil:
		return errors.New("peer factory builder is required")
	}

	return nil
}

// Controller runs one classroom session for one participant. Inbound events
// and every state mutation go through a single dispatch loop.
type Controller struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	store   *store.Store
	loop    *eventloop.Loop
	router  *eventrouter.Router
	audio   *audio.Synchronizer
	notes   *notifier
	journal *worker[repository.JournalEntry]
	mirror  *worker[domain.TransportState]

	// set by Initialize
	peers   *peer.Engine
	capture Capture
	runCtx  context.Context
	cancel  context.CancelFunc

	initOnce      sync.Once
	readyOnce     sync.Once
	ready         chan struct{}
	terminateOnce sync.Once
	done          chan struct{}
	teardownOnce  sync.Once

	mu     sync.Mutex
	reason Reason
	status transport.Status

	// loop only
	synced  bool
	muted   bool
	lookups map[domain.AudioID]struct{}
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.Peer.ICEDebounce <= 0 {
		cfg.Peer = peer.DefaultConfig()
	}

	logger = logger.With("session_id", cfg.SessionID, "user_id", cfg.UserID)

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		store:  store.New(cfg.SessionID),
		loop:   eventloop.New(cfg.QueueSize),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		status: transport.StatusClosed,

		lookups: make(map[domain.AudioID]struct{}),
	}

	c.notes = newNotifier(cfg.SessionID, deps.Observers, logger)
	c.journal = newWorker(logger.With("worker", "journal"), cfg.QueueSize, c.writeJournal)
	c.mirror = newWorker(logger.With("worker", "playback_mirror"), 8, c.writeMirror)
	c.audio = audio.NewSynchronizer(cfg.Role, deps.Engine, deps.Backend, deps.StreamURL, logger, audio.Hooks{
		OnDisplay: c.displayChanged,
		OnFault:   c.playbackFault,
	})
	c.router = c.newRouter()

	return c, nil
}

// Ready is closed once the first session_state has been applied.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the session view terminates.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reason
}

func (c *Controller) Role() domain.Role {
	return c.cfg.Role
}

// View is what a UI renders.
type View struct {
	store.View
	Playback domain.TransportState `json:"playback"`
	Seeking  bool                  `json:"seeking"`
	Peers    map[string]peer.State `json:"peers"`
	Status   transport.Status      `json:"transport_status"`
	Ready    bool                  `json:"ready"`
	Reason   Reason                `json:"terminated_reason,omitempty"`
}

func (c *Controller) View() View {
	v := View{
		View:     c.store.View(),
		Playback: c.audio.Display(),
		Seeking:  c.audio.Seeking(),
		Peers:    make(map[string]peer.State),
	}

	c.mu.Lock()
	v.Status = c.status
	v.Reason = c.reason
	peers := c.peers
	c.mu.Unlock()

	if peers != nil {
		for id, st := range peers.Peers() {
			v.Peers[id.String()] = st
		}
	}

	select {
	case <-c.ready:
		v.Ready = true
	default:
	}

	return v
}

// Subscribe returns a channel of notifications and a func to stop them.
func (c *Controller) Subscribe(size int) (<-chan repository.Notification, func()) {
	return c.notes.subscribe(size)
}

// TransportStatus is meant to be passed to transport.WithStatusHandler.
func (c *Controller) TransportStatus(s transport.Status, err error) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()

	n := repository.Notification{Kind: repository.NotifyStatus, Status: string(s)}
	if err != nil {
		n.Message = err.Error()
	}
	c.notes.emit(n)
}

func (c *Controller) active() error {
	select {
	case <-c.done:
		return ErrTerminated
	default:
	}

	select {
	case <-c.ready:
		return nil
	default:
		return ErrNotReady
	}
}
