// ABOUTME: Ledger event store for conversation history and agent state changes
// ABOUTME: Events are ordered by an autoincrement sequence rather than wall clock

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveEvent persists a ledger event and fills in ID, Seq and Timestamp.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *LedgerEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (event_id, thread_id, direction, author, type, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.ThreadID,
		string(event.Direction),
		event.Author,
		string(event.Type),
		event.Text,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event sequence: %w", err)
	}
	event.Seq = seq
	return nil
}

// ListEvents returns a thread's events oldest first. limit <= 0 returns all.
func (s *SQLiteStore) ListEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error) {
	query := `
		SELECT seq, event_id, thread_id, direction, author, type, text, timestamp
		FROM ledger_events WHERE thread_id = ? ORDER BY seq ASC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// ListRecentEvents returns up to limit events for a thread, newest first.
func (s *SQLiteStore) ListRecentEvents(ctx context.Context, threadID string, limit int) ([]*LedgerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(ctx, `
		SELECT seq, event_id, thread_id, direction, author, type, text, timestamp
		FROM ledger_events WHERE thread_id = ? ORDER BY seq DESC LIMIT ?`,
		threadID, limit)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*LedgerEvent
	for rows.Next() {
		var e LedgerEvent
		var direction, eventType, ts string
		if err := rows.Scan(&e.Seq, &e.ID, &e.ThreadID, &direction, &e.Author, &eventType, &e.Text, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Direction = EventDirection(direction)
		e.Type = EventType(eventType)
		e.Timestamp = parseTime(ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}
