package repository

import (
	"encoding/json"
	"time"

	"github.com/sharetube/classroom/internal/domain"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// JournalEntry is one session log line: an event we received or an action
// we sent.
type JournalEntry struct {
	SessionID     domain.SessionID      `json:"session_id"`
	EventType     string                `json:"event_type"`
	Direction     Direction             `json:"direction"`
	ParticipantID *domain.ParticipantID `json:"participant_id,omitempty"`
	Details       json.RawMessage       `json:"details,omitempty"`
	At            time.Time             `json:"at"`
}

type NotificationKind string

const (
	NotifyState      NotificationKind = "state"
	NotifyNotice     NotificationKind = "notice"
	NotifyStatus     NotificationKind = "status"
	NotifyPeer       NotificationKind = "peer"
	NotifyTerminated NotificationKind = "terminated"
)

type Notification struct {
	Kind      NotificationKind      `json:"kind"`
	SessionID domain.SessionID      `json:"session_id"`
	At        time.Time             `json:"at"`
	Message   string                `json:"message,omitempty"`
	Status    string                `json:"status,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	RemoteID  *domain.ParticipantID `json:"remote_participant_id,omitempty"`
	PeerState string                `json:"peer_state,omitempty"`
}

// Playback is the last transport state mirrored into storage.
type Playback struct {
	AudioID   int64   `redis:"audio_id"`
	Title     string  `redis:"title"`
	Speed     float64 `redis:"speed"`
	Position  float64 `redis:"position"`
	Duration  float64 `redis:"duration"`
	IsPlaying bool    `redis:"is_playing"`
	UpdatedAt int64   `redis:"updated_at"`
}
