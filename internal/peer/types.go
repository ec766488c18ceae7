package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/classroom/internal/domain"
)

var (
	ErrUnknownPeer     = errors.New("unknown peer")
	ErrMalformedSignal = errors.New("malformed signal")
	ErrEngineClosed    = errors.New("peer engine is closed")
	ErrUnexpectedSDP   = errors.New("unexpected session description")
)

const (
	SignalOffer              = "offer"
	SignalAnswer             = "answer"
	SignalICECandidate       = "ice_candidate"
	SignalICECandidatesBatch = "ice_candidates_batch"
)

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Signal is the payload carried inside a webrtc_signal event.
type Signal struct {
	Type       string      `json:"type"`
	SDP        string      `json:"sdp,omitempty"`
	Candidate  *Candidate  `json:"candidate,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

type wireSignal struct {
	Type          string          `json:"type"`
	SDP           string          `json:"sdp"`
	Candidate     json.RawMessage `json:"candidate"`
	Candidates    []Candidate     `json:"candidates"`
	SDPMid        *string         `json:"sdpMid"`
	SDPMLineIndex *uint16         `json:"sdpMLineIndex"`
}

// DecodeSignal parses a signal payload. A single candidate may be sent
// either as an object or as a bare string with sdpMid and sdpMLineIndex
// next to it.
func DecodeSignal(raw []byte) (Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(raw, &w); err != nil {
		return Signal{}, fmt.Errorf("%w: %w", ErrMalformedSignal, err)
	}

	s := Signal{Type: w.Type, SDP: w.SDP, Candidates: w.Candidates}

	switch w.Type {
	case SignalOffer, SignalAnswer:
		if w.SDP == "" {
			return Signal{}, fmt.Errorf("%w: %s without sdp", ErrMalformedSignal, w.Type)
		}
	case SignalICECandidate:
		c, err := decodeCandidate(w)
		if err != nil {
			return Signal{}, err
		}
		s.Candidate = &c
	case SignalICECandidatesBatch:
		if len(w.Candidates) == 0 {
			return Signal{}, fmt.Errorf("%w: empty candidate batch", ErrMalformedSignal)
		}
	default:
		return Signal{}, fmt.Errorf("%w: unknown type %q", ErrMalformedSignal, w.Type)
	}

	return s, nil
}

func decodeCandidate(w wireSignal) (Candidate, error) {
	if len(w.Candidate) == 0 || string(w.Candidate) == "null" {
		return Candidate{}, fmt.Errorf("%w: ice_candidate without candidate", ErrMalformedSignal)
	}

	var c Candidate
	if err := json.Unmarshal(w.Candidate, &c); err == nil {
		return c, nil
	}

	if err := json.Unmarshal(w.Candidate, &c.Candidate); err != nil {
		return Candidate{}, fmt.Errorf("%w: %w", ErrMalformedSignal, err)
	}
	c.SDPMid = w.SDPMid
	c.SDPMLineIndex = w.SDPMLineIndex

	return c, nil
}

type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// State is the per-remote lifecycle as seen by the engine.
type State string

const (
	StateAbsent     State = "absent"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosed     State = "closed"
)

// Callbacks are invoked from connection-owned goroutines.
type Callbacks struct {
	OnCandidate   func(Candidate)
	OnStateChange func(ConnectionState)
}

// Connection is one audio peer connection with local tracks attached.
type Connection interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(SessionDescription) error
	SetRemoteDescription(SessionDescription) error
	AddICECandidate(Candidate) error
	Close() error
}

type Factory interface {
	NewConnection(remote domain.ParticipantID, cb Callbacks) (Connection, error)
}

// Signaler carries signals to a remote participant.
type Signaler interface {
	Signal(to domain.ParticipantID, signal Signal)
}

// Executor runs completions on the session dispatch loop.
type Executor interface {
	Post(fn func()) bool
}

// ShouldOffer reports whether self initiates the offer towards remote.
// Exactly one side of any pair of distinct ids gets true.
func ShouldOffer(self, remote domain.ParticipantID) bool {
	return self > remote
}
