package store

import "github.com/sharetube/classroom/internal/domain"

// TransportPatch carries the transport fields present in an event.
type TransportPatch struct {
	AudioID  *domain.AudioID
	Title    *string
	Speed    *float64
	Position *float64
	Duration *float64
	Playing  *bool
}

// ApplyTransportEvent updates the fields present in patch and leaves the
// rest unchanged.
func (s *Store) ApplyTransportEvent(patch TransportPatch) domain.TransportState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyTransport(patch)

	return s.transport
}

func (s *Store) applyTransport(patch TransportPatch) {
	t := &s.transport

	if patch.AudioID != nil && *patch.AudioID != t.AudioID {
		t.AudioID = *patch.AudioID
		// duration belongs to the previous audio
		t.Duration = nil
		if patch.Title == nil {
			t.Title = ""
		}
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Duration != nil && *patch.Duration > 0 {
		d := *patch.Duration
		t.Duration = &d
	}
	if patch.Speed != nil {
		t.Speed = domain.ClampSpeed(*patch.Speed)
	}
	if patch.Position != nil {
		t.Position = t.ClampPosition(*patch.Position)
	}
	if patch.Playing != nil {
		t.Playing = *patch.Playing
	}
}

// SetDuration records a duration learned from local decoding.
func (s *Store) SetDuration(duration float64) {
	if duration <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transport.Duration = &duration
	s.transport.Position = s.transport.ClampPosition(s.transport.Position)
}
