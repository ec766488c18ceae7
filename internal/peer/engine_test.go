package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldOfferIsDeterministic(t *testing.T) {
	ids := []domain.ParticipantID{1, 2, 3, 10, 99, 1000}

	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				assert.False(t, ShouldOffer(a, b))
				continue
			}
			assert.NotEqual(t, ShouldOffer(a, b), ShouldOffer(b, a), "%d vs %d", a, b)
			assert.Equal(t, ShouldOffer(a, b), ShouldOffer(a, b))
		}
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(9))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Connect(context.Background(), 4))
		}()
	}
	wg.Wait()

	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalOffer)) == 1
	})
	time.Sleep(20 * time.Millisecond)
	exec.drain()

	assert.Len(t, factory.created(4), 1)
	assert.Len(t, signals.ofType(SignalOffer), 1)
	assert.Equal(t, domain.ParticipantID(4), signals.ofType(SignalOffer)[0].to)
	assert.Equal(t, StateConnecting, e.State(4))
}

func TestParticipantObservedAppliesOffererRule(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	e := newTestEngine(factory, &signalLog{}, exec)

	// self unknown: never offer
	require.NoError(t, e.ParticipantObserved(context.Background(), 3))
	assert.Equal(t, StateAbsent, e.State(3))

	e.SetSelf(domain.KnownSelf(5))
	require.NoError(t, e.ParticipantObserved(context.Background(), 3))
	require.NoError(t, e.ParticipantObserved(context.Background(), 7))
	require.NoError(t, e.ParticipantObserved(context.Background(), 5))

	assert.Equal(t, StateConnecting, e.State(3))
	assert.Equal(t, StateAbsent, e.State(7))
	assert.Equal(t, StateAbsent, e.State(5))
	assert.Equal(t, []domain.ParticipantID{3}, e.Remotes())
}

func TestTwoParticipantsConnectOnce(t *testing.T) {
	exec := &queueExecutor{}
	candidates := []Candidate{{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}, {Candidate: "candidate:2 1 udp 1 10.0.0.2 5000 typ host"}}

	factoryA, factoryB := newFakeFactory(), newFakeFactory()
	factoryA.gather = candidates
	factoryB.gather = candidates

	relayToA := &relay{from: 2, exec: exec, t: t}
	relayToB := &relay{from: 1, exec: exec, t: t}

	a := newTestEngine(factoryA, relayToB, exec)
	b := newTestEngine(factoryB, relayToA, exec)
	relayToA.target = a
	relayToB.target = b

	// A joined first, then B; both process the snapshot {1, 2}
	a.SetSelf(domain.KnownSelf(1))
	require.NoError(t, a.Reconcile(context.Background(), []domain.ParticipantID{2}))
	b.SetSelf(domain.KnownSelf(2))
	require.NoError(t, b.Reconcile(context.Background(), []domain.ParticipantID{1}))

	eventually(t, exec, func() bool {
		return a.State(2) == StateConnected && b.State(1) == StateConnected
	})

	require.Len(t, factoryA.created(2), 1)
	require.Len(t, factoryB.created(1), 1)

	// each side received the other's batched candidates
	eventually(t, exec, func() bool {
		return len(factoryA.created(2)[0].addedCandidates()) == 2 &&
			len(factoryB.created(1)[0].addedCandidates()) == 2
	})
}

func TestCandidatesAreBatched(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(2))

	require.NoError(t, e.Connect(context.Background(), 1))
	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalOffer)) == 1
	})

	conn := factory.created(1)[0]
	for i := 0; i < 3; i++ {
		conn.cb.OnCandidate(Candidate{Candidate: "c"})
	}

	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalICECandidatesBatch)) == 1
	})
	batches := signals.ofType(SignalICECandidatesBatch)
	assert.Len(t, batches[0].signal.Candidates, 3)

	conn.cb.OnCandidate(Candidate{Candidate: "late"})
	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalICECandidatesBatch)) == 2
	})
	batches = signals.ofType(SignalICECandidatesBatch)
	assert.Equal(t, []Candidate{{Candidate: "late"}}, batches[1].signal.Candidates)
}

func TestCandidatesWaitForLocalDescription(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	factory.gather = []Candidate{{Candidate: "early"}}
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(2))

	require.NoError(t, e.Connect(context.Background(), 1))
	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalICECandidatesBatch)) == 1
	})

	signals.mu.Lock()
	defer signals.mu.Unlock()
	require.Len(t, signals.sent, 2)
	assert.Equal(t, SignalOffer, signals.sent[0].signal.Type)
	assert.Equal(t, SignalICECandidatesBatch, signals.sent[1].signal.Type)
}

func TestRemoteCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(1))

	ctx := context.Background()
	require.NoError(t, e.HandleSignal(ctx, 2, signalJSON(t, Signal{Type: SignalOffer, SDP: "offer-from-2"})))
	require.NoError(t, e.HandleSignal(ctx, 2, signalJSON(t, Signal{Type: SignalICECandidatesBatch, Candidates: []Candidate{{Candidate: "a"}, {Candidate: "b"}}})))

	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalAnswer)) == 1
	})

	conn := factory.created(2)[0]
	assert.Equal(t, []Candidate{{Candidate: "a"}, {Candidate: "b"}}, conn.addedCandidates())

	// single candidate form, bare string with sibling fields
	raw := []byte(`{"type":"ice_candidate","candidate":"c","sdpMid":"0","sdpMLineIndex":0}`)
	require.NoError(t, e.HandleSignal(ctx, 2, raw))

	added := conn.addedCandidates()
	require.Len(t, added, 3)
	assert.Equal(t, "c", added[2].Candidate)
	require.NotNil(t, added[2].SDPMid)
	assert.Equal(t, "0", *added[2].SDPMid)
	require.NotNil(t, added[2].SDPMLineIndex)
	assert.Equal(t, uint16(0), *added[2].SDPMLineIndex)

	// object form
	require.NoError(t, e.HandleSignal(ctx, 2, []byte(`{"type":"ice_candidate","candidate":{"candidate":"d","sdpMid":"1"}}`)))
	assert.Equal(t, "d", conn.addedCandidates()[3].Candidate)
}

func TestMalformedAndUnexpectedSignals(t *testing.T) {
	exec := &queueExecutor{}
	e := newTestEngine(newFakeFactory(), &signalLog{}, exec)
	e.SetSelf(domain.KnownSelf(1))
	ctx := context.Background()

	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`not json`)), ErrMalformedSignal)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"offer"}`)), ErrMalformedSignal)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"renegotiate"}`)), ErrMalformedSignal)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"ice_candidate"}`)), ErrMalformedSignal)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"ice_candidates_batch","candidates":[]}`)), ErrMalformedSignal)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"answer","sdp":"x"}`)), ErrUnknownPeer)
	assert.ErrorIs(t, e.HandleSignal(ctx, 2, []byte(`{"type":"ice_candidate","candidate":"c"}`)), ErrUnknownPeer)

	// an offer without a usable sender must not create a record
	assert.ErrorIs(t, e.HandleSignal(ctx, 0, []byte(`{"type":"offer","sdp":"v=0"}`)), ErrMalformedSignal)
	assert.Equal(t, StateAbsent, e.State(0))
	assert.Empty(t, e.Remotes())
}

func TestGlareHigherIDKeepsItsOffer(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(5))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx, 3))
	require.NoError(t, e.HandleSignal(ctx, 3, signalJSON(t, Signal{Type: SignalOffer, SDP: "offer-from-3"})))

	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalOffer)) == 1
	})
	time.Sleep(20 * time.Millisecond)
	exec.drain()

	assert.Len(t, factory.created(3), 1)
	assert.Empty(t, signals.ofType(SignalAnswer))
}

func TestGlareLowerIDYields(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}
	e := newTestEngine(factory, signals, exec)
	e.SetSelf(domain.KnownSelf(3))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx, 5))
	require.NoError(t, e.HandleSignal(ctx, 5, signalJSON(t, Signal{Type: SignalOffer, SDP: "offer-from-5"})))

	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalAnswer)) == 1
	})

	conns := factory.created(5)
	require.Len(t, conns, 2)
	assert.True(t, conns[0].isClosed())
	assert.False(t, conns[1].isClosed())
	assert.Equal(t, []domain.ParticipantID{5}, e.Remotes())
}

func TestFailureCleansUp(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	signals := &signalLog{}

	var mu sync.Mutex
	var states []State
	e := NewEngine(Config{ICEDebounce: 40 * time.Millisecond}, factory, signals, exec, testLogger(), Hooks{
		OnStateChange: func(_ domain.ParticipantID, s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	e.SetSelf(domain.KnownSelf(2))

	require.NoError(t, e.Connect(context.Background(), 1))
	eventually(t, exec, func() bool {
		return len(signals.ofType(SignalOffer)) == 1
	})

	conn := factory.created(1)[0]
	conn.cb.OnStateChange(ConnectionConnected)
	conn.cb.OnCandidate(Candidate{Candidate: "pending"})
	conn.cb.OnStateChange(ConnectionFailed)
	exec.drain()

	assert.Equal(t, StateAbsent, e.State(1))
	assert.True(t, conn.isClosed())

	// the debounce timer was cancelled with the record
	time.Sleep(80 * time.Millisecond)
	exec.drain()
	assert.Empty(t, signals.ofType(SignalICECandidatesBatch))

	mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateClosed}, states)
	mu.Unlock()

	// late callbacks from the dead connection are ignored
	conn.cb.OnStateChange(ConnectionConnected)
	exec.drain()
	assert.Equal(t, StateAbsent, e.State(1))
}

func TestNegotiationFailureRemovesRecord(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	factory.failOffer = errors.New("no codecs")
	e := newTestEngine(factory, &signalLog{}, exec)
	e.SetSelf(domain.KnownSelf(2))

	require.NoError(t, e.Connect(context.Background(), 1))
	eventually(t, exec, func() bool {
		return e.State(1) == StateAbsent
	})
	assert.True(t, factory.created(1)[0].isClosed())
}

func TestReconcileClosesStaleRecords(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	e := newTestEngine(factory, &signalLog{}, exec)
	e.SetSelf(domain.KnownSelf(5))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx, 1))
	require.NoError(t, e.Reconcile(ctx, []domain.ParticipantID{3}))

	assert.Equal(t, []domain.ParticipantID{3}, e.Remotes())
	assert.True(t, factory.created(1)[0].isClosed())

	assert.True(t, e.Remove(ctx, 3))
	assert.False(t, e.Remove(ctx, 3))
	assert.True(t, factory.created(3)[0].isClosed())
}

func TestCloseAll(t *testing.T) {
	exec := &queueExecutor{}
	factory := newFakeFactory()
	e := newTestEngine(factory, &signalLog{}, exec)
	e.SetSelf(domain.KnownSelf(5))
	ctx := context.Background()

	require.NoError(t, e.Connect(ctx, 1))
	require.NoError(t, e.Connect(ctx, 2))

	e.CloseAll()
	e.CloseAll()

	assert.Empty(t, e.Peers())
	assert.True(t, factory.created(1)[0].isClosed())
	assert.True(t, factory.created(2)[0].isClosed())
	assert.ErrorIs(t, e.Connect(ctx, 3), ErrEngineClosed)
	assert.ErrorIs(t, e.HandleSignal(ctx, 4, signalJSON(t, Signal{Type: SignalOffer, SDP: "x"})), ErrEngineClosed)

	// completions of in-flight negotiations are discarded
	exec.drain()
	assert.Empty(t, e.Peers())
}
