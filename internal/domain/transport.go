package domain

import "errors"

const (
	MinSpeed     = 0.25
	MaxSpeed     = 3.0
	DefaultSpeed = 1.0
)

var ErrInvalidSpeed = errors.New("speed out of range")

type TransportState struct {
	AudioID  AudioID  `json:"audio_id,omitempty"`
	Title    string   `json:"title,omitempty"`
	Speed    float64  `json:"speed"`
	Position float64  `json:"position"`
	Duration *float64 `json:"duration,omitempty"`
	Playing  bool     `json:"playing"`
}

func NewTransportState() TransportState {
	return TransportState{Speed: DefaultSpeed}
}

func (t TransportState) HasAudio() bool {
	return t.AudioID != 0
}

func ValidSpeed(speed float64) bool {
	return speed >= MinSpeed && speed <= MaxSpeed
}

func ClampSpeed(speed float64) float64 {
	switch {
	case speed < MinSpeed:
		return MinSpeed
	case speed > MaxSpeed:
		return MaxSpeed
	default:
		return speed
	}
}

// ClampPosition keeps a position inside [0, duration] when the duration is
// known, and non-negative otherwise.
func (t TransportState) ClampPosition(position float64) float64 {
	if position < 0 {
		return 0
	}

	if t.Duration != nil && *t.Duration > 0 && position > *t.Duration {
		return *t.Duration
	}

	return position
}
