package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/repository"
)

const DefaultSubjectPrefix = "classroom.sessions"

type repo struct {
	nc     *nats.Conn
	prefix string
}

func NewRepo(nc *nats.Conn, prefix string) *repo {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &repo{
		nc:     nc,
		prefix: prefix,
	}
}

func (r repo) getSubject(sessionID domain.SessionID, kind repository.NotificationKind) string {
	return r.prefix + "." + strconv.FormatInt(int64(sessionID), 10) + "." + string(kind)
}

// Publish sends note to <prefix>.<session id>.<kind>. Delivery is at most
// once.
func (r repo) Publish(ctx context.Context, note repository.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := r.nc.Publish(r.getSubject(note.SessionID, note.Kind), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}
