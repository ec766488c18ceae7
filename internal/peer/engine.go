package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/classroom/internal/domain"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Config struct {
	ICEDebounce time.Duration `json:"ice_debounce"`
}

func DefaultConfig() Config {
	return Config{ICEDebounce: 150 * time.Millisecond}
}

type Hooks struct {
	OnStateChange func(remote domain.ParticipantID, state State)
}

type record struct {
	remote    domain.ParticipantID
	logger    *slog.Logger
	conn      Connection
	state     State
	initiator bool
	// localSent is set once our offer or answer went out
	localSent bool
	remoteSet bool

	remoteCandidates []Candidate
	outbound         []Candidate
	timer            *time.Timer
	gen              uint64
}

// Engine keeps at most one peer connection per remote participant. Its
// exported methods are called from the session dispatch loop; async
// negotiation steps report back through the Executor.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	factory  Factory
	signaler Signaler
	exec     Executor
	hooks    Hooks

	mu      sync.Mutex
	self    domain.Self
	records map[domain.ParticipantID]*record
	closed  bool
}

func NewEngine(cfg Config, factory Factory, signaler Signaler, exec Executor, logger *slog.Logger, hooks Hooks) *Engine {
	if hooks.OnStateChange == nil {
		hooks.OnStateChange = func(domain.ParticipantID, State) {}
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		factory:  factory,
		signaler: signaler,
		exec:     exec,
		hooks:    hooks,
		records:  make(map[domain.ParticipantID]*record),
	}
}

func (e *Engine) SetSelf(self domain.Self) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.self = self
}

// ParticipantObserved starts an offer to remote when we are the offering
// side. With self unknown nothing happens.
func (e *Engine) ParticipantObserved(ctx context.Context, remote domain.ParticipantID) error {
	e.mu.Lock()
	self := e.self
	e.mu.Unlock()

	selfID, ok := self.ID()
	if !ok || selfID == remote {
		return nil
	}

	if !ShouldOffer(selfID, remote) {
		e.logger.DebugContext(ctx, "waiting for remote offer", "remote_participant_id", remote)
		return nil
	}

	return e.Connect(ctx, remote)
}

// Reconcile closes records for participants outside remotes and applies
// the offerer rule to every remote without a record.
func (e *Engine) Reconcile(ctx context.Context, remotes []domain.ParticipantID) error {
	keep := make(map[domain.ParticipantID]struct{}, len(remotes))
	for _, id := range remotes {
		keep[id] = struct{}{}
	}

	e.mu.Lock()
	var closers []func()
	for id, rec := range e.records {
		if _, ok := keep[id]; !ok {
			closers = append(closers, e.detachLocked(rec))
		}
	}
	e.mu.Unlock()

	for _, closeFn := range closers {
		closeFn()
	}

	var errs []error
	for _, id := range remotes {
		if err := e.ParticipantObserved(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Connect creates the record for remote and sends an offer. Calling it for
// a remote that already has a record is a no-op.
func (e *Engine) Connect(ctx context.Context, remote domain.ParticipantID) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, ok := e.records[remote]; ok {
		e.mu.Unlock()
		return nil
	}

	rec, err := e.newRecordLocked(remote, true)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	rec.logger.InfoContext(ctx, "offering peer connection")
	e.hooks.OnStateChange(remote, StateConnecting)

	go e.createOffer(rec)

	return nil
}

func (e *Engine) newRecordLocked(remote domain.ParticipantID, initiator bool) (*record, error) {
	rec := &record{
		remote:    remote,
		logger:    e.logger.With("remote_participant_id", remote),
		state:     StateConnecting,
		initiator: initiator,
	}

	conn, err := e.factory.NewConnection(remote, e.callbacks(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	rec.conn = conn
	e.records[remote] = rec

	return rec, nil
}

func (e *Engine) callbacks(rec *record) Callbacks {
	return Callbacks{
		OnCandidate: func(c Candidate) {
			e.exec.Post(func() {
				e.localCandidate(rec, c)
			})
		},
		OnStateChange: func(s ConnectionState) {
			e.exec.Post(func() {
				e.connectionStateChanged(rec, s)
			})
		},
	}
}

func (e *Engine) currentLocked(rec *record) bool {
	return e.records[rec.remote] == rec
}

// detachLocked forgets rec and returns the func that releases it. The func
// must run without e.mu held.
func (e *Engine) detachLocked(rec *record) func() {
	if e.currentLocked(rec) {
		delete(e.records, rec.remote)
	}

	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	rec.gen++
	rec.outbound = nil
	rec.remoteCandidates = nil

	if rec.state == StateClosed {
		return func() {}
	}
	rec.state = StateClosed

	return func() {
		if err := rec.conn.Close(); err != nil {
			rec.logger.Warn("failed to close peer connection", "error", err)
		}
		e.hooks.OnStateChange(rec.remote, StateClosed)
	}
}

func (e *Engine) cleanup(rec *record, reason string) {
	e.mu.Lock()
	closeFn := e.detachLocked(rec)
	e.mu.Unlock()

	rec.logger.Info("peer connection closed", "reason", reason)
	closeFn()
}

func (e *Engine) connectionStateChanged(rec *record, s ConnectionState) {
	e.mu.Lock()
	if !e.currentLocked(rec) {
		e.mu.Unlock()
		return
	}

	switch s {
	case ConnectionConnected:
		changed := rec.state != StateConnected
		rec.state = StateConnected
		e.mu.Unlock()

		if changed {
			rec.logger.Info("peer connected")
			e.hooks.OnStateChange(rec.remote, StateConnected)
		}
	case ConnectionFailed, ConnectionClosed:
		e.mu.Unlock()
		e.cleanup(rec, string(s))
	default:
		e.mu.Unlock()
		rec.logger.Debug("peer connection state changed", "state", s)
	}
}

// Remove closes the connection to remote, if any.
func (e *Engine) Remove(ctx context.Context, remote domain.ParticipantID) bool {
	e.mu.Lock()
	rec, ok := e.records[remote]
	if !ok {
		e.mu.Unlock()
		return false
	}
	closeFn := e.detachLocked(rec)
	e.mu.Unlock()

	rec.logger.InfoContext(ctx, "peer connection removed")
	closeFn()

	return true
}

// CloseAll closes every connection and refuses new ones. Safe to call more
// than once.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	e.closed = true
	closers := make([]func(), 0, len(e.records))
	for _, rec := range e.records {
		closers = append(closers, e.detachLocked(rec))
	}
	e.mu.Unlock()

	for _, closeFn := range closers {
		closeFn()
	}
}

func (e *Engine) State(remote domain.ParticipantID) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[remote]
	if !ok {
		return StateAbsent
	}

	return rec.state
}

func (e *Engine) Peers() map[domain.ParticipantID]State {
	e.mu.Lock()
	defer e.mu.Unlock()

	peers := make(map[domain.ParticipantID]State, len(e.records))
	for id, rec := range e.records {
		peers[id] = rec.state
	}

	return peers
}

// Remotes returns the ids with a live record, ascending.
func (e *Engine) Remotes() []domain.ParticipantID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := maps.Keys(e.records)
	slices.Sort(ids)

	return ids
}
