package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// EventLogSummary describes a stored event log without its events.
type EventLogSummary struct {
	ID         string
	EventCount int
	UpdatedAt  time.Time
}

// AppendEvent adds an event to the end of an instance's log, creating the
// log when it does not exist yet.
func (s *Store) AppendEvent(ctx context.Context, id string, ev models.CanonicalEvent) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("event log id is required")
	}
	return s.withTx(ctx, "append event "+id, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT events_json FROM event_logs WHERE id = ?`, id).Scan(&raw)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		events := []models.CanonicalEvent{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &events); err != nil {
				return fmt.Errorf("decode event log: %w", err)
			}
		}
		events = append(events, ev)
		data, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("encode event log: %w", err)
		}
		updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
		_, err = tx.ExecContext(ctx, `INSERT INTO event_logs (id, events_json, updated_at, event_count) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET events_json = excluded.events_json, updated_at = excluded.updated_at, event_count = excluded.event_count`,
			id, string(data), updatedAt, len(events))
		return err
	})
}

// LoadEventLog returns the stored events for an instance. The boolean is
// false when no log exists.
func (s *Store) LoadEventLog(ctx context.Context, id string) ([]models.CanonicalEvent, bool, error) {
	if s == nil || s.DB == nil {
		return nil, false, errors.New("db store is nil")
	}
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT events_json FROM event_logs WHERE id = ?`, strings.TrimSpace(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load event log %s: %w", id, err)
	}
	events := []models.CanonicalEvent{}
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, false, fmt.Errorf("decode event log %s: %w", id, err)
	}
	return events, true, nil
}

// ListEventLogs summarizes every stored log, most recently updated first.
func (s *Store) ListEventLogs(ctx context.Context) ([]EventLogSummary, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, event_count, updated_at FROM event_logs ORDER BY updated_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()
	out := []EventLogSummary{}
	for rows.Next() {
		var summary EventLogSummary
		var updatedAt string
		if err := rows.Scan(&summary.ID, &summary.EventCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		summary.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event logs: %w", err)
	}
	return out, nil
}
