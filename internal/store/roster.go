package store

import (
	"github.com/sharetube/classroom/internal/domain"
	"golang.org/x/exp/slices"
)

// ApplySnapshot replaces the roster with roster and, when playback is not
// nil, patches the transport state. It returns the remote ids that were
// known before and are absent from the snapshot.
func (s *Store) ApplySnapshot(roster []domain.Participant, playback *TransportPatch) []domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[domain.ParticipantID]domain.Participant, len(roster))
	for _, p := range roster {
		next[p.ID] = p
		if p.IsTeacher() {
			s.session.TeacherID = p.UserID
		}
	}

	var removed []domain.ParticipantID
	for id := range s.participants {
		if _, ok := next[id]; !ok && !s.self.Is(id) {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)

	s.participants = next

	if playback != nil {
		s.applyTransport(*playback)
	}

	return removed
}

// ApplyParticipantJoined upserts p and reports whether it was new. Events
// about self are ignored.
func (s *Store) ApplyParticipantJoined(p domain.Participant) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.self.Is(p.ID) {
		return false
	}

	existing, ok := s.participants[p.ID]
	if ok {
		// keep flags the join event does not carry
		p.IsMuted = existing.IsMuted
		p.HandRaised = existing.HandRaised
	}
	s.participants[p.ID] = p

	if p.IsTeacher() {
		s.session.TeacherID = p.UserID
	}

	return !ok
}

// ApplyParticipantLeft removes id and reports whether it was known. Events
// about self are ignored.
func (s *Store) ApplyParticipantLeft(id domain.ParticipantID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.self.Is(id) {
		return false
	}

	_, ok := s.participants[id]
	delete(s.participants, id)

	return ok
}

func (s *Store) ApplyParticipantMuted(id domain.ParticipantID, muted bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return false
	}
	p.IsMuted = muted
	s.participants[id] = p

	return true
}

func (s *Store) ApplyHandChanged(id domain.ParticipantID, raised bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return false
	}
	p.HandRaised = raised
	s.participants[id] = p

	return true
}
