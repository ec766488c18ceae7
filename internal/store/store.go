package store

import (
	"sync"
	"time"

	"github.com/sharetube/classroom/internal/domain"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Store mirrors the server session state. Mutations come from the session
// dispatch loop only; readers on other goroutines use View.
type Store struct {
	mu           sync.RWMutex
	session      domain.Session
	self         domain.Self
	participants map[domain.ParticipantID]domain.Participant
	chat         []domain.ChatMessage
	transport    domain.TransportState
	now          func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(sessionID domain.SessionID, opts ...Option) *Store {
	s := &Store{
		session: domain.Session{
			ID:    sessionID,
			Phase: domain.PhaseActive,
		},
		participants: make(map[domain.ParticipantID]domain.Participant),
		transport:    domain.NewTransportState(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// View is a read-only copy of the store.
type View struct {
	Session      domain.Session        `json:"session"`
	Self         *domain.ParticipantID `json:"self_participant_id"`
	Participants []domain.Participant  `json:"participants"`
	Chat         []domain.ChatMessage  `json:"chat"`
	Transport    domain.TransportState `json:"transport"`
}

func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Session:      s.session,
		Participants: s.sortedParticipants(),
		Chat:         slices.Clone(s.chat),
		Transport:    s.transport,
	}
	if id, ok := s.self.ID(); ok {
		v.Self = &id
	}
	if s.transport.Duration != nil {
		d := *s.transport.Duration
		v.Transport.Duration = &d
	}

	return v
}

func (s *Store) sortedParticipants() []domain.Participant {
	ids := maps.Keys(s.participants)
	slices.Sort(ids)

	list := make([]domain.Participant, 0, len(ids))
	for _, id := range ids {
		list = append(list, s.participants[id])
	}

	return list
}

func (s *Store) SetSelf(id domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.self = domain.KnownSelf(id)
}

func (s *Store) Self() domain.Self {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.self
}

func (s *Store) SetTeacher(id domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.TeacherID = id
}

func (s *Store) SetPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Phase = phase
}

func (s *Store) Phase() domain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.session.Phase
}

func (s *Store) Participant(id domain.ParticipantID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	return p, ok
}

// RemoteIDs returns every known participant except self, ascending.
func (s *Store) RemoteIDs() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]domain.ParticipantID, 0, len(s.participants))
	for id := range s.participants {
		if !s.self.Is(id) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids
}

func (s *Store) Transport() domain.TransportState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.transport
}
