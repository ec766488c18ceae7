package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/internal/repository"
	omitnilpointers "github.com/sharetube/classroom/pkg/omit-nil-pointers"
)

func (r repo) getJournalKey(sessionID domain.SessionID) string {
	return "session:" + strconv.FormatInt(int64(sessionID), 10) + ":journal"
}

func (r repo) Record(ctx context.Context, entry repository.JournalEntry) error {
	journalKey := r.getJournalKey(entry.SessionID)

	var participantID *int64
	if entry.ParticipantID != nil {
		id := int64(*entry.ParticipantID)
		participantID = &id
	}

	var details *string
	if len(entry.Details) > 0 {
		d := string(entry.Details)
		details = &d
	}

	values := omitnilpointers.OmitNilPointers(map[string]any{
		"participant_id": participantID,
		"details":        details,
	})
	values = omitnilpointers.Merge(values, map[string]any{
		"event_type": entry.EventType,
		"direction":  string(entry.Direction),
		"at":         entry.At.UTC().Format(time.RFC3339Nano),
	})

	pipe := r.rc.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: journalKey,
		MaxLen: r.maxLen,
		Values: values,
	})
	pipe.Expire(ctx, journalKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}

	return nil
}

// Entries returns up to count of the most recent entries, oldest first.
func (r repo) Entries(ctx context.Context, sessionID domain.SessionID, count int64) ([]repository.JournalEntry, error) {
	messages, err := r.rc.XRevRangeN(ctx, r.getJournalKey(sessionID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	entries := make([]repository.JournalEntry, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		entry, err := r.parseEntry(sessionID, messages[i].Values)
		if err != nil {
			return nil, fmt.Errorf("failed to parse journal entry %s: %w", messages[i].ID, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (r repo) parseEntry(sessionID domain.SessionID, values map[string]any) (repository.JournalEntry, error) {
	field := func(key string) string {
		s, _ := values[key].(string)
		return s
	}

	at, err := time.Parse(time.RFC3339Nano, field("at"))
	if err != nil {
		return repository.JournalEntry{}, err
	}

	entry := repository.JournalEntry{
		SessionID: sessionID,
		EventType: field("event_type"),
		Direction: repository.Direction(field("direction")),
		At:        at,
	}
	if details := field("details"); details != "" {
		entry.Details = json.RawMessage(details)
	}
	if raw := field("participant_id"); raw != "" {
		id, err := domain.ParseParticipantID(raw)
		if err != nil {
			return repository.JournalEntry{}, err
		}
		entry.ParticipantID = &id
	}

	return entry, nil
}
