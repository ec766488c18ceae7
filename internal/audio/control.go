package audio

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sharetube/classroom/internal/domain"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoAudioSelected  = errors.New("no audio selected")
	ErrInvalidSpeed     = domain.ErrInvalidSpeed
)

type ControlAction string

const (
	ActionPlay  ControlAction = "play"
	ActionPause ControlAction = "pause"
	ActionSeek  ControlAction = "seek"
)

// ControlRequest is the one-shot transport action posted by the teacher.
type ControlRequest struct {
	Action   ControlAction   `json:"action"`
	AudioID  *domain.AudioID `json:"audio_id,omitempty"`
	Speed    float64         `json:"speed"`
	Position float64         `json:"position"`
}

var ActionRule = []validation.Rule{
	validation.Required,
	validation.In(ActionPlay, ActionPause, ActionSeek),
}

var SpeedRule = []validation.Rule{
	validation.Required,
	validation.Min(domain.MinSpeed),
	validation.Max(domain.MaxSpeed),
}

var PositionRule = []validation.Rule{
	validation.Min(0.0),
}

func (r ControlRequest) Validate(ctx context.Context) error {
	return validation.ValidateStructWithContext(ctx, &r,
		validation.Field(&r.Action, ActionRule...),
		validation.Field(&r.AudioID, validation.When(r.Action == ActionPlay, validation.Required)),
		validation.Field(&r.Speed, SpeedRule...),
		validation.Field(&r.Position, PositionRule...),
	)
}

// ControlPoster sends teacher transport actions to the backend.
type ControlPoster interface {
	PostAudioControl(ctx context.Context, req ControlRequest) error
	SelectAudio(ctx context.Context, id domain.AudioID) error
}
