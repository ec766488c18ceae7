package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/repository"
)

func (r repo) getPlaybackKey(sessionID domain.SessionID) string {
	return "session:" + strconv.FormatInt(int64(sessionID), 10) + ":playback"
}

func (r repo) SavePlayback(ctx context.Context, sessionID domain.SessionID, st domain.TransportState) error {
	playback := repository.Playback{
		AudioID:   int64(st.AudioID),
		Title:     st.Title,
		Speed:     st.Speed,
		Position:  st.Position,
		IsPlaying: st.Playing,
		UpdatedAt: r.now().UnixMilli(),
	}
	if st.Duration != nil {
		playback.Duration = *st.Duration
	}

	playbackKey := r.getPlaybackKey(sessionID)
	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, playbackKey, playback)
	pipe.Expire(ctx, playbackKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to save playback: %w", err)
	}

	return nil
}

func (r repo) GetPlayback(ctx context.Context, sessionID domain.SessionID) (repository.Playback, error) {
	playbackKey := r.getPlaybackKey(sessionID)
	res, err := r.rc.Exists(ctx, playbackKey).Result()
	if err != nil {
		return repository.Playback{}, fmt.Errorf("failed to check if playback exists: %w", err)
	}
	if res == 0 {
		return repository.Playback{}, repository.ErrPlaybackNotFound
	}

	var playback repository.Playback
	if err := r.rc.HGetAll(ctx, playbackKey).Scan(&playback); err != nil {
		return repository.Playback{}, fmt.Errorf("failed to get playback: %w", err)
	}

	return playback, nil
}
