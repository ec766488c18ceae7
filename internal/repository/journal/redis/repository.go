package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	maxLen         int64
	now            func() time.Time
}

// NewRepo keeps at most maxLen journal entries per session. Both keys of a
// session expire expireDuration after the last write.
func NewRepo(rc *redis.Client, expireDuration time.Duration, maxLen int64) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		maxLen:         maxLen,
		now:            time.Now,
	}
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}
