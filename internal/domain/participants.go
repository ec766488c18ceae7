package domain

import (
	"errors"
	"strconv"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidID           = errors.New("invalid id")
)

type (
	SessionID     int64
	UserID        int64
	ParticipantID int64
	AudioID       int64
)

func ParseParticipantID(s string) (ParticipantID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, ErrInvalidID
	}

	return ParticipantID(id), nil
}

func (id ParticipantID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func RoleFromFlag(isTeacher bool) Role {
	if isTeacher {
		return RoleTeacher
	}

	return RoleStudent
}

func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

type Participant struct {
	ID         ParticipantID `json:"participant_id"`
	UserID     UserID        `json:"user_id"`
	Name       string        `json:"name"`
	Role       Role          `json:"role"`
	IsMuted    bool          `json:"is_muted"`
	HandRaised bool          `json:"raised_hand"`
}

func (p Participant) IsTeacher() bool {
	return p.Role == RoleTeacher
}

// Self is the participant id of the local client. It stays unknown until
// the server acknowledges the connection.
type Self struct {
	id    ParticipantID
	known bool
}

func KnownSelf(id ParticipantID) Self {
	return Self{id: id, known: true}
}

func (s Self) Known() bool {
	return s.known
}

func (s Self) ID() (ParticipantID, bool) {
	return s.id, s.known
}

// Is reports whether id is the local participant. Always false while unknown.
func (s Self) Is(id ParticipantID) bool {
	return s.known && s.id == id
}
