package controller

import (
	"context"

	"github.com/sharetube/classroom/internal/domain"
)

type contextKey int

const (
	participantIdCtxKey contextKey = iota
)

func (c controller) getParticipantIdFromCtx(ctx context.Context) domain.ParticipantID {
	participantId, ok := ctx.Value(participantIdCtxKey).(domain.ParticipantID)
	if !ok {
		return 0
	}

	return participantId
}
