package event

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sharetube/classroom/internal/domain"
)

type Connected struct {
	ParticipantID *domain.ParticipantID `json:"participant_id"`
	SessionID     domain.SessionID      `json:"session_id"`
	UserID        domain.UserID         `json:"user_id"`
}

type ParticipantState struct {
	UserID     domain.UserID `json:"user_id"`
	Name       string        `json:"name"`
	IsMuted    bool          `json:"is_muted"`
	RaisedHand bool          `json:"raised_hand"`
	IsTeacher  bool          `json:"is_teacher"`
}

type Playback struct {
	Status   *string         `json:"status"`
	AudioID  *domain.AudioID `json:"audio_id"`
	Speed    *float64        `json:"speed"`
	Position *float64        `json:"position"`
	Title    *string         `json:"title"`
	Duration *float64        `json:"duration"`
}

func (p Playback) IsPlaying() bool {
	return p.Status != nil && *p.Status == "playing"
}

type SessionState struct {
	Participants map[string]ParticipantState `json:"participants"`
	Playback     *Playback                   `json:"playback"`
}

// Roster converts the snapshot participants keyed by id into domain values.
func (s SessionState) Roster() ([]domain.Participant, error) {
	roster := make([]domain.Participant, 0, len(s.Participants))
	for key, p := range s.Participants {
		id, err := domain.ParseParticipantID(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse participant key %q: %w", key, err)
		}

		roster = append(roster, domain.Participant{
			ID:         id,
			UserID:     p.UserID,
			Name:       p.Name,
			Role:       domain.RoleFromFlag(p.IsTeacher),
			IsMuted:    p.IsMuted,
			HandRaised: p.RaisedHand,
		})
	}

	return roster, nil
}

// ParticipantJoined also decodes participant_added and
// participant_already_present.
type ParticipantJoined struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	UserID        domain.UserID        `json:"user_id"`
	Name          string               `json:"name"`
	IsTeacher     bool                 `json:"is_teacher"`
}

func (e ParticipantJoined) Participant() domain.Participant {
	return domain.Participant{
		ID:     e.ParticipantID,
		UserID: e.UserID,
		Name:   e.Name,
		Role:   domain.RoleFromFlag(e.IsTeacher),
	}
}

// ParticipantRef is the payload of left, kicked and hand events.
type ParticipantRef struct {
	ParticipantID *domain.ParticipantID `json:"participant_id"`
	Reason        string                `json:"reason,omitempty"`
}

type ParticipantMuted struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	IsMuted       bool                 `json:"is_muted"`
}

// Chat accepts both the socket shape {from, sender_name, text} and the
// push-stream shape {participant_id, message}.
type Chat struct {
	From          *domain.ParticipantID `json:"from"`
	ParticipantID *domain.ParticipantID `json:"participant_id"`
	SenderName    string                `json:"sender_name"`
	Text          string                `json:"text"`
	Message       string                `json:"message"`
}

func (c Chat) Body() string {
	if c.Text != "" {
		return c.Text
	}

	return c.Message
}

func (c Chat) Origin() (domain.ParticipantID, bool) {
	switch {
	case c.From != nil:
		return *c.From, true
	case c.ParticipantID != nil:
		return *c.ParticipantID, true
	default:
		return 0, false
	}
}

type WebRTCSignal struct {
	From    *domain.ParticipantID `json:"from"`
	To      *domain.ParticipantID `json:"to"`
	Payload json.RawMessage       `json:"payload"`
}

// Transport is the payload of every audio_* event. Absent fields are nil.
type Transport struct {
	AudioID       *domain.AudioID `json:"audio_id"`
	Title         *string         `json:"title"`
	Speed         *float64        `json:"speed"`
	Position      *float64        `json:"position"`
	Duration      *float64        `json:"duration"`
	ResumePlaying *bool           `json:"resume_playing"`
}

type Notice struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func (n Notice) Text() string {
	for _, s := range []string{n.Detail, n.Message, n.Reason} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}

	return ""
}
