package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}

	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestMigrate(t *testing.T) {
	db := &fakeExecer{}

	require.NoError(t, NewRepo(db).Migrate(context.Background()))

	require.Len(t, db.calls, 2)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS session_logs")
	assert.Contains(t, db.calls[1].sql, "CREATE INDEX IF NOT EXISTS")
}

func TestRecord(t *testing.T) {
	db := &fakeExecer{}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	participant := domain.ParticipantID(4)

	require.NoError(t, NewRepo(db).Record(context.Background(), repository.JournalEntry{
		SessionID:     10,
		EventType:     "participant_left",
		Direction:     repository.DirectionInbound,
		ParticipantID: &participant,
		Details:       json.RawMessage(`{"participant_id":4}`),
		At:            at,
	}))

	require.Len(t, db.calls, 1)
	call := db.calls[0]
	assert.Contains(t, call.sql, "INSERT INTO session_logs")
	require.Len(t, call.args, 6)
	assert.Equal(t, int64(10), call.args[0])
	assert.Equal(t, "participant_left", call.args[1])
	assert.Equal(t, "inbound", call.args[2])
	require.IsType(t, (*int64)(nil), call.args[3])
	assert.Equal(t, int64(4), *call.args[3].(*int64))
	assert.Equal(t, []byte(`{"participant_id":4}`), call.args[4])
	assert.Equal(t, at, call.args[5])
}

func TestRecordWithoutParticipant(t *testing.T) {
	db := &fakeExecer{}

	require.NoError(t, NewRepo(db).Record(context.Background(), repository.JournalEntry{
		SessionID: 10,
		EventType: "end_session",
		Direction: repository.DirectionOutbound,
		At:        time.Now(),
	}))

	require.Len(t, db.calls, 1)
	assert.Nil(t, db.calls[0].args[3])
	assert.Nil(t, db.calls[0].args[4])
}

func TestRecordWrapsError(t *testing.T) {
	boom := errors.New("connection refused")
	db := &fakeExecer{err: boom}

	err := NewRepo(db).Record(context.Background(), repository.JournalEntry{SessionID: 10, EventType: "chat"})
	assert.ErrorIs(t, err, boom)
}
