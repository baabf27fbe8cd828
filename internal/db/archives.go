package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// ErrArchiveNotFound is returned when no archive exists for an id.
var ErrArchiveNotFound = errors.New("archive not found")

// SaveArchive upserts an archive record keyed by instance name.
func (s *Store) SaveArchive(ctx context.Context, rec models.ArchiveRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("archive id is required")
	}
	if len(rec.Data) == 0 {
		return errors.New("archive data is required")
	}
	if !json.Valid(rec.Data) {
		return errors.New("archive data must be valid json")
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO archives (id, ts, data_json) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET ts = excluded.ts, data_json = excluded.data_json`,
		id, rec.Timestamp, string(rec.Data))
	if err != nil {
		return fmt.Errorf("save archive %s: %w", id, err)
	}
	return nil
}

// GetArchive loads one archive record.
func (s *Store) GetArchive(ctx context.Context, id string) (models.ArchiveRecord, error) {
	if s == nil || s.DB == nil {
		return models.ArchiveRecord{}, errors.New("db store is nil")
	}
	row := s.DB.QueryRowContext(ctx, `SELECT id, ts, data_json FROM archives WHERE id = ?`, strings.TrimSpace(id))
	rec, err := scanArchiveRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ArchiveRecord{}, ErrArchiveNotFound
	}
	if err != nil {
		return models.ArchiveRecord{}, fmt.Errorf("get archive %s: %w", id, err)
	}
	return rec, nil
}

// ListArchives returns all archive records, newest first.
func (s *Store) ListArchives(ctx context.Context) ([]models.ArchiveRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, ts, data_json FROM archives ORDER BY ts DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()
	out := []models.ArchiveRecord{}
	for rows.Next() {
		rec, err := scanArchiveRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archives: %w", err)
	}
	return out, nil
}

// ArchiveIDs returns the set of archived instance names.
func (s *Store) ArchiveIDs(ctx context.Context) (map[string]struct{}, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("db store is nil")
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM archives`)
	if err != nil {
		return nil, fmt.Errorf("list archive ids: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan archive id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive ids: %w", err)
	}
	return ids, nil
}

// DeleteArchive removes an archive and its event log together.
func (s *Store) DeleteArchive(ctx context.Context, id string) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("archive id is required")
	}
	return s.withTx(ctx, "delete archive "+id, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM archives WHERE id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM event_logs WHERE id = ?`, id)
		return err
	})
}

// ClearArchives empties both collections.
func (s *Store) ClearArchives(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("db store is nil")
	}
	return s.withTx(ctx, "clear archives", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM archives`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM event_logs`)
		return err
	})
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArchiveRow(row rowScanner) (models.ArchiveRecord, error) {
	var rec models.ArchiveRecord
	var data string
	if err := row.Scan(&rec.ID, &rec.Timestamp, &data); err != nil {
		return models.ArchiveRecord{}, err
	}
	rec.Data = json.RawMessage(data)
	return rec, nil
}
