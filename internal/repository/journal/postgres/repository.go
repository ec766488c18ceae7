package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sharetube/classroom/internal/repository"
)

const (
	createSessionLogsTable = `CREATE TABLE IF NOT EXISTS session_logs (
	id             BIGSERIAL PRIMARY KEY,
	session_id     BIGINT      NOT NULL,
	event_type     TEXT        NOT NULL,
	direction      TEXT        NOT NULL,
	participant_id BIGINT,
	details        JSONB,
	created_at     TIMESTAMPTZ NOT NULL
)`
	createSessionLogsIndex = `CREATE INDEX IF NOT EXISTS session_logs_session_id_created_at_idx
	ON session_logs (session_id, created_at)`
	insertSessionLog = `INSERT INTO session_logs
	(session_id, event_type, direction, participant_id, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`
)

// execer is satisfied by *pgx.Conn and *pgxpool.Pool.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repo struct {
	db execer
}

func NewRepo(db execer) *repo {
	return &repo{db: db}
}

// Migrate creates the session_logs table when it does not exist.
func (r repo) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createSessionLogsTable, createSessionLogsIndex} {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate session_logs: %w", err)
		}
	}

	return nil
}

func (r repo) Record(ctx context.Context, entry repository.JournalEntry) error {
	var participantID *int64
	if entry.ParticipantID != nil {
		id := int64(*entry.ParticipantID)
		participantID = &id
	}

	var details []byte
	if len(entry.Details) > 0 {
		details = entry.Details
	}

	if _, err := r.db.Exec(ctx, insertSessionLog,
		int64(entry.SessionID),
		entry.EventType,
		string(entry.Direction),
		participantID,
		details,
		entry.At,
	); err != nil {
		return fmt.Errorf("failed to insert session log: %w", err)
	}

	return nil
}
