package media

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sharetube/classroom/internal/domain"
)

// Sink drains remote audio tracks. The reader for a track stops when its
// peer connection closes.
type Sink struct {
	logger *slog.Logger

	mu      sync.Mutex
	packets map[domain.ParticipantID]uint64
	active  map[domain.ParticipantID]int
	wg      sync.WaitGroup
}

func NewSink(logger *slog.Logger) *Sink {
	return &Sink{
		logger:  logger,
		packets: make(map[domain.ParticipantID]uint64),
		active:  make(map[domain.ParticipantID]int),
	}
}

// Consume matches peer.RemoteTrackHandler.
func (s *Sink) Consume(remote domain.ParticipantID, track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.active[remote]++
	s.mu.Unlock()

	s.logger.Info("receiving remote audio", "remote_participant_id", remote, "codec", track.Codec().MimeType)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(remote)

		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}

			s.mu.Lock()
			s.packets[remote]++
			s.mu.Unlock()
		}
	}()
}

func (s *Sink) release(remote domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active[remote]--
	if s.active[remote] <= 0 {
		delete(s.active, remote)
	}
}

func (s *Sink) Packets(remote domain.ParticipantID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.packets[remote]
}

func (s *Sink) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

// Wait blocks until every reader has stopped.
func (s *Sink) Wait() {
	s.wg.Wait()
}
