package repository

import "errors"

var (
	ErrPlaybackNotFound = errors.New("playback not found")
)
