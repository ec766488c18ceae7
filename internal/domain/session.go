package domain

import "time"

type Phase string

const (
	PhaseActive Phase = "active"
	PhaseEnding Phase = "ending"
	PhaseEnded  Phase = "ended"
)

type Session struct {
	ID        SessionID `json:"session_id"`
	TeacherID UserID    `json:"teacher_id"`
	Phase     Phase     `json:"phase"`
}

type ChatMessage struct {
	LocalID    string        `json:"local_id"`
	SenderID   ParticipantID `json:"sender_id,omitempty"`
	SenderName string        `json:"sender_name"`
	Text       string        `json:"text"`
	ReceivedAt time.Time     `json:"received_at"`
	Own        bool          `json:"own"`
	// Pending is set on a local echo until the server broadcast confirms it.
	Pending bool `json:"pending"`
}
