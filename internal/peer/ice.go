package peer

import "time"

func (e *Engine) localCandidate(rec *record, c Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.currentLocked(rec) {
		return
	}

	rec.outbound = append(rec.outbound, c)
	if rec.localSent {
		e.armLocked(rec)
	}
}

// armLocked restarts the idle window. The batch goes out once no candidate
// arrived for ICEDebounce.
func (e *Engine) armLocked(rec *record) {
	rec.gen++
	gen := rec.gen

	if rec.timer != nil {
		rec.timer.Stop()
	}
	rec.timer = time.AfterFunc(e.cfg.ICEDebounce, func() {
		e.exec.Post(func() {
			e.flush(rec, gen)
		})
	})
}

func (e *Engine) flush(rec *record, gen uint64) {
	e.mu.Lock()
	if !e.currentLocked(rec) || rec.gen != gen || len(rec.outbound) == 0 {
		e.mu.Unlock()
		return
	}

	batch := rec.outbound
	rec.outbound = nil
	rec.timer = nil
	e.mu.Unlock()

	rec.logger.Debug("sending candidate batch", "count", len(batch))
	e.signaler.Signal(rec.remote, Signal{Type: SignalICECandidatesBatch, Candidates: batch})
}
