package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/db"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

const (
	archiveResultOK          = "ok"
	archiveResultError       = "error"
	archiveResultRemoteError = "remote_error"
)

// ErrNoArchiveStore is returned when neither a local store nor remote
// archives are configured.
var ErrNoArchiveStore = errors.New("no archive store configured")

// archiveClosed persists every inactive instance that has not been archived
// yet. An instance is only marked once its save succeeded, so a failed write
// is attempted again on the next reduction.
func (s *Session) archiveClosed(ctx context.Context, state models.WorldState) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	names := make([]string, 0, len(state.Instances))
	for name, inst := range state.Instances {
		if inst.Active || name == models.HubWorld {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.isArchived(name) {
			continue
		}
		if err := s.saveArchive(ctx, state.Instances[name]); err != nil {
			if errors.Is(err, ErrNoArchiveStore) {
				if !s.archiveWarned {
					s.logger.Printf("vexdashd: archive %s: %v; closed instances stay unarchived", name, err)
					s.archiveWarned = true
				}
				continue
			}
			s.logger.Printf("vexdashd: archive %s: %v", name, err)
			continue
		}
		s.mu.Lock()
		s.archived[name] = struct{}{}
		s.mu.Unlock()
		s.logger.Printf("vexdashd: archived instance %s", name)
	}
}

func (s *Session) isArchived(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.archived[name]
	return ok
}

func (s *Session) saveArchive(ctx context.Context, inst models.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		s.metrics.IncArchiveSave(archiveResultError)
		return fmt.Errorf("encode instance: %w", err)
	}
	rec := models.ArchiveRecord{
		ID:        inst.Name,
		Timestamp: models.FormatTimestamp(s.now()),
		Data:      data,
	}
	mirror := s.remoteArchives && s.upstream != nil
	if s.store == nil && !mirror {
		return ErrNoArchiveStore
	}
	if s.store != nil {
		if err := s.store.SaveArchive(ctx, rec); err != nil {
			s.metrics.IncArchiveSave(archiveResultError)
			return err
		}
	}
	if mirror {
		if err := s.upstream.SaveArchive(ctx, rec); err != nil {
			s.metrics.IncArchiveSave(archiveResultRemoteError)
			if s.store == nil {
				return fmt.Errorf("save remote archive: %w", err)
			}
			s.logger.Printf("vexdashd: mirror archive %s: %v", rec.ID, err)
			return nil
		}
	}
	s.metrics.IncArchiveSave(archiveResultOK)
	return nil
}

// loadArchivedIDs seeds the archived set from the local store and, when
// mirroring, the upstream list.
func (s *Session) loadArchivedIDs(ctx context.Context) {
	ids := make(map[string]struct{})
	if s.store != nil {
		local, err := s.store.ArchiveIDs(ctx)
		if err != nil {
			s.logger.Printf("vexdashd: load archive ids: %v", err)
		}
		for id := range local {
			ids[id] = struct{}{}
		}
	}
	if s.remoteArchives && s.upstream != nil {
		remote, err := s.upstream.ListArchives(ctx)
		if err != nil {
			s.logger.Printf("vexdashd: load remote archives: %v", err)
		}
		for _, rec := range remote {
			ids[rec.ID] = struct{}{}
		}
	}
	s.mu.Lock()
	for id := range ids {
		s.archived[id] = struct{}{}
	}
	s.mu.Unlock()
}

// ListArchives returns archives newest first. The local store is
// authoritative when present.
func (s *Session) ListArchives(ctx context.Context) ([]models.ArchiveRecord, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	if s.store != nil {
		return s.store.ListArchives(ctx)
	}
	if s.remoteArchives && s.upstream != nil {
		records, err := s.upstream.ListArchives(ctx)
		if err != nil {
			return nil, fmt.Errorf("list remote archives: %w", err)
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp > records[j].Timestamp
		})
		return records, nil
	}
	return []models.ArchiveRecord{}, nil
}

func (s *Session) GetArchive(ctx context.Context, id string) (models.ArchiveRecord, error) {
	if s == nil {
		return models.ArchiveRecord{}, errors.New("session is nil")
	}
	if s.store != nil {
		return s.store.GetArchive(ctx, id)
	}
	records, err := s.ListArchives(ctx)
	if err != nil {
		return models.ArchiveRecord{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return models.ArchiveRecord{}, db.ErrArchiveNotFound
}

// ArchiveEvents returns the stored event log for an instance. The boolean
// is false when none exists.
func (s *Session) ArchiveEvents(ctx context.Context, id string) ([]models.CanonicalEvent, bool, error) {
	if s == nil {
		return nil, false, errors.New("session is nil")
	}
	if s.store == nil {
		return nil, false, nil
	}
	return s.store.LoadEventLog(ctx, id)
}

// EventLogs summarizes the stored per-instance event logs, most recently
// updated first. Without a local store there are none.
func (s *Session) EventLogs(ctx context.Context) ([]db.EventLogSummary, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	if s.store == nil {
		return []db.EventLogSummary{}, nil
	}
	return s.store.ListEventLogs(ctx)
}

// DeleteArchive removes an archive and its event log. The instance becomes
// eligible for archival again if it is still present in the buffer.
func (s *Session) DeleteArchive(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("session is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("archive id is required")
	}
	if s.store != nil {
		if err := s.store.DeleteArchive(ctx, id); err != nil {
			return err
		}
	}
	if s.remoteArchives && s.upstream != nil {
		if err := s.upstream.DeleteArchive(ctx, id); err != nil && !apiclient.IsNotFound(err) {
			if s.store == nil {
				return fmt.Errorf("delete remote archive %s: %w", id, err)
			}
			s.logger.Printf("vexdashd: mirror delete archive %s: %v", id, err)
		}
	}
	s.mu.Lock()
	delete(s.archived, id)
	s.mu.Unlock()
	return nil
}

// ClearArchives removes every archive and event log.
func (s *Session) ClearArchives(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if s.store != nil {
		if err := s.store.ClearArchives(ctx); err != nil {
			return err
		}
	}
	if s.remoteArchives && s.upstream != nil {
		if err := s.upstream.ClearArchives(ctx); err != nil {
			if s.store == nil {
				return fmt.Errorf("clear remote archives: %w", err)
			}
			s.logger.Printf("vexdashd: mirror clear archives: %v", err)
		}
	}
	s.mu.Lock()
	s.archived = make(map[string]struct{})
	s.mu.Unlock()
	s.logger.Printf("vexdashd: archives cleared")
	return nil
}
