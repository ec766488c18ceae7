package controller

import (
	"context"
	"log/slog"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/session"
	"github.com/sharetube/classroom/pkg/validator"
)

type iSession interface {
	View() session.View
	SetMuted(ctx context.Context, muted bool) error
	RaiseHand(ctx context.Context) error
	LowerHand(ctx context.Context) error
	SendChat(ctx context.Context, text string) error
	EndSession(ctx context.Context) error
	MuteParticipant(ctx context.Context, target domain.ParticipantID, mute bool) error
	KickParticipant(ctx context.Context, target domain.ParticipantID) error
	SelectAudio(ctx context.Context, id domain.AudioID) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, position float64) error
	SetSpeed(ctx context.Context, speed float64) error
}

type controller struct {
	session  iSession
	validate *validator.Validator
	logger   *slog.Logger
}

func NewController(session iSession, logger *slog.Logger) *controller {
	return &controller{
		session:  session,
		validate: validator.NewValidator(),
		logger:   logger,
	}
}
