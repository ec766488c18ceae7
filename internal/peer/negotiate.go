package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/classroom/internal/domain"
)

func (e *Engine) createOffer(rec *record) {
	offer, err := rec.conn.CreateOffer()
	if err == nil {
		err = rec.conn.SetLocalDescription(offer)
	}

	e.exec.Post(func() {
		e.negotiated(rec, offer, false, err)
	})
}

func (e *Engine) createAnswer(rec *record, offer SessionDescription) {
	var answer SessionDescription

	err := rec.conn.SetRemoteDescription(offer)
	remoteApplied := err == nil
	if err == nil {
		answer, err = rec.conn.CreateAnswer()
	}
	if err == nil {
		err = rec.conn.SetLocalDescription(answer)
	}

	e.exec.Post(func() {
		e.negotiated(rec, answer, remoteApplied, err)
	})
}

func (e *Engine) applyAnswer(rec *record, answer SessionDescription) {
	err := rec.conn.SetRemoteDescription(answer)

	e.exec.Post(func() {
		e.negotiated(rec, SessionDescription{}, err == nil, err)
	})
}

// negotiated runs on the dispatch loop after an async negotiation step.
// local is sent to the remote when set.
func (e *Engine) negotiated(rec *record, local SessionDescription, remoteApplied bool, err error) {
	e.mu.Lock()
	if !e.currentLocked(rec) {
		e.mu.Unlock()
		return
	}

	var pending []Candidate
	if remoteApplied {
		rec.remoteSet = true
		pending = rec.remoteCandidates
		rec.remoteCandidates = nil
	}

	if err != nil {
		established := rec.state == StateConnected
		e.mu.Unlock()

		rec.logger.Error("negotiation step failed", "error", err)
		if !established {
			e.cleanup(rec, "negotiation failed")
		}
		return
	}

	if local.SDP != "" {
		rec.localSent = true
		if len(rec.outbound) > 0 {
			e.armLocked(rec)
		}
	}
	e.mu.Unlock()

	for _, c := range pending {
		if err := rec.conn.AddICECandidate(c); err != nil {
			rec.logger.Warn("failed to add buffered remote candidate", "error", err)
		}
	}

	if local.SDP != "" {
		e.signaler.Signal(rec.remote, Signal{Type: local.Type, SDP: local.SDP})
	}
}

// HandleSignal applies a webrtc_signal payload from remote. Malformed and
// unexpected signals return an error and leave the connection alone.
func (e *Engine) HandleSignal(ctx context.Context, from domain.ParticipantID, payload json.RawMessage) error {
	if from < 1 {
		return fmt.Errorf("%w: sender %d", ErrMalformedSignal, from)
	}

	sig, err := DecodeSignal(payload)
	if err != nil {
		return err
	}

	switch sig.Type {
	case SignalOffer:
		return e.handleOffer(ctx, from, SessionDescription{Type: SignalOffer, SDP: sig.SDP})
	case SignalAnswer:
		return e.handleAnswer(ctx, from, SessionDescription{Type: SignalAnswer, SDP: sig.SDP})
	case SignalICECandidate:
		return e.addRemoteCandidates(from, []Candidate{*sig.Candidate})
	default:
		return e.addRemoteCandidates(from, sig.Candidates)
	}
}

func (e *Engine) handleOffer(ctx context.Context, from domain.ParticipantID, offer SessionDescription) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	var closeFn func()
	rec, ok := e.records[from]
	if ok && rec.initiator && !rec.remoteSet {
		selfID, _ := e.self.ID()
		if ShouldOffer(selfID, from) {
			e.mu.Unlock()
			rec.logger.InfoContext(ctx, "ignoring remote offer during glare")
			return nil
		}

		// the remote wins, drop our pending offer
		closeFn = e.detachLocked(rec)
		ok = false
	}

	created := !ok
	if created {
		var err error
		rec, err = e.newRecordLocked(from, false)
		if err != nil {
			e.mu.Unlock()
			if closeFn != nil {
				closeFn()
			}
			return err
		}
	}
	e.mu.Unlock()

	if closeFn != nil {
		closeFn()
	}
	if created {
		rec.logger.InfoContext(ctx, "answering peer connection")
		e.hooks.OnStateChange(from, StateConnecting)
	}

	go e.createAnswer(rec, offer)

	return nil
}

func (e *Engine) handleAnswer(ctx context.Context, from domain.ParticipantID, answer SessionDescription) error {
	e.mu.Lock()
	rec, ok := e.records[from]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: answer from %d", ErrUnknownPeer, from)
	}
	if !rec.initiator || rec.remoteSet {
		e.mu.Unlock()
		return fmt.Errorf("%w: answer from %d", ErrUnexpectedSDP, from)
	}
	e.mu.Unlock()

	rec.logger.DebugContext(ctx, "applying remote answer")
	go e.applyAnswer(rec, answer)

	return nil
}

func (e *Engine) addRemoteCandidates(from domain.ParticipantID, candidates []Candidate) error {
	e.mu.Lock()
	rec, ok := e.records[from]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: candidates from %d", ErrUnknownPeer, from)
	}
	if !rec.remoteSet {
		rec.remoteCandidates = append(rec.remoteCandidates, candidates...)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var errs []error
	for _, c := range candidates {
		if err := rec.conn.AddICECandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to add remote candidates: %w", errors.Join(errs...))
	}

	return nil
}
