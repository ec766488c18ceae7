package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queueExecutor is a dispatch loop driven by the test goroutine.
type queueExecutor struct {
	mu    sync.Mutex
	queue []func()
}

func (q *queueExecutor) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, fn)
	return true
}

func (q *queueExecutor) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}

func eventually(t *testing.T, exec *queueExecutor, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		exec.drain()
		return cond()
	}, 2*time.Second, 5*time.Millisecond)
}

type fakeConn struct {
	mu        sync.Mutex
	remote    domain.ParticipantID
	cb        Callbacks
	local     SessionDescription
	remoteSDP SessionDescription
	added     []Candidate
	closed    bool
	connected bool
	failOffer error
	gather    []Candidate
}

func (c *fakeConn) CreateOffer() (SessionDescription, error) {
	if c.failOffer != nil {
		return SessionDescription{}, c.failOffer
	}

	return SessionDescription{Type: SignalOffer, SDP: fmt.Sprintf("offer-to-%d", c.remote)}, nil
}

func (c *fakeConn) CreateAnswer() (SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remoteSDP.Type != SignalOffer {
		return SessionDescription{}, errors.New("no remote offer")
	}

	return SessionDescription{Type: SignalAnswer, SDP: fmt.Sprintf("answer-to-%d", c.remote)}, nil
}

func (c *fakeConn) SetLocalDescription(d SessionDescription) error {
	c.mu.Lock()
	c.local = d
	gather := c.gather
	c.mu.Unlock()

	for _, cand := range gather {
		c.cb.OnCandidate(cand)
	}
	c.maybeConnect()

	return nil
}

func (c *fakeConn) SetRemoteDescription(d SessionDescription) error {
	if d.SDP == "garbage" {
		return errors.New("invalid sdp")
	}

	c.mu.Lock()
	c.remoteSDP = d
	c.mu.Unlock()

	c.maybeConnect()

	return nil
}

func (c *fakeConn) maybeConnect() {
	c.mu.Lock()
	ready := c.local.SDP != "" && c.remoteSDP.SDP != "" && !c.connected
	if ready {
		c.connected = true
	}
	c.mu.Unlock()

	if ready {
		c.cb.OnStateChange(ConnectionConnected)
	}
}

func (c *fakeConn) AddICECandidate(cand Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.added = append(c.added, cand)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeConn) addedCandidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Candidate(nil), c.added...)
}

type fakeFactory struct {
	mu        sync.Mutex
	conns     map[domain.ParticipantID][]*fakeConn
	failOffer error
	gather    []Candidate
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{conns: make(map[domain.ParticipantID][]*fakeConn)}
}

func (f *fakeFactory) NewConnection(remote domain.ParticipantID, cb Callbacks) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := &fakeConn{remote: remote, cb: cb, failOffer: f.failOffer, gather: f.gather}
	f.conns[remote] = append(f.conns[remote], c)

	return c, nil
}

func (f *fakeFactory) created(remote domain.ParticipantID) []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeConn(nil), f.conns[remote]...)
}

type sentSignal struct {
	to     domain.ParticipantID
	signal Signal
}

type signalLog struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (l *signalLog) Signal(to domain.ParticipantID, s Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sent = append(l.sent, sentSignal{to: to, signal: s})
}

func (l *signalLog) ofType(typ string) []sentSignal {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []sentSignal
	for _, s := range l.sent {
		if s.signal.Type == typ {
			out = append(out, s)
		}
	}

	return out
}

// relay delivers signals to another engine through its executor, the way
// the backend would.
type relay struct {
	from   domain.ParticipantID
	target *Engine
	exec   *queueExecutor
	t      *testing.T
}

func (r *relay) Signal(_ domain.ParticipantID, s Signal) {
	data, err := json.Marshal(s)
	if err != nil {
		r.t.Errorf("marshal signal: %v", err)
		return
	}

	r.exec.Post(func() {
		if err := r.target.HandleSignal(context.Background(), r.from, data); err != nil {
			r.t.Errorf("handle signal: %v", err)
		}
	})
}

func newTestEngine(factory Factory, signaler Signaler, exec Executor) *Engine {
	return NewEngine(Config{ICEDebounce: 40 * time.Millisecond}, factory, signaler, exec, testLogger(), Hooks{})
}

func signalJSON(t *testing.T, s Signal) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)

	return data
}
