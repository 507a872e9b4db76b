package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"racecore/internal/blob"
	"racecore/pkg/domain"
)

// Blob keys for house points backups.
const (
	BackupLatestKey     = "house-points/backups/latest.json"
	BackupHistoryPrefix = "house-points/backups/history/"
)

// Audit actions written for ledger administration.
const (
	AuditActionResetHousePoints   = "reset_house_points"
	AuditActionRestoreHousePoints = "restore_house_points"
)

// HousePointsSnapshot is the backup document. Its JSON shape is a stable
// external contract: {"timestamp": ISO-8601, "data": [entries]}.
type HousePointsSnapshot struct {
	Timestamp string                    `json:"timestamp"`
	Data      []domain.HousePointsEntry `json:"data"`
}

// ParseHousePointsSnapshot decodes and validates a backup document.
func ParseHousePointsSnapshot(raw string) (HousePointsSnapshot, error) {
	var shape struct {
		Timestamp *string                    `json:"timestamp"`
		Data      *[]domain.HousePointsEntry `json:"data"`
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&shape); err != nil {
		return HousePointsSnapshot{}, fmt.Errorf("%w: %v", domain.ErrInvalidSnapshot, err)
	}
	if dec.More() {
		return HousePointsSnapshot{}, fmt.Errorf("%w: trailing data after snapshot", domain.ErrInvalidSnapshot)
	}
	if shape.Timestamp == nil {
		return HousePointsSnapshot{}, fmt.Errorf("%w: missing timestamp", domain.ErrInvalidSnapshot)
	}
	if _, err := time.Parse(time.RFC3339, *shape.Timestamp); err != nil {
		return HousePointsSnapshot{}, fmt.Errorf("%w: timestamp: %v", domain.ErrInvalidSnapshot, err)
	}
	if shape.Data == nil {
		return HousePointsSnapshot{}, fmt.Errorf("%w: missing data", domain.ErrInvalidSnapshot)
	}
	for i, e := range *shape.Data {
		if strings.TrimSpace(e.House) == "" {
			return HousePointsSnapshot{}, fmt.Errorf("%w: entry %d has no house_name", domain.ErrInvalidSnapshot, i)
		}
	}
	return HousePointsSnapshot{Timestamp: *shape.Timestamp, Data: *shape.Data}, nil
}

// audit writes an audit entry in its own transaction. Failures are logged
// and swallowed.
func (s *Service) audit(ctx context.Context, actor, action, detail string) {
	s.logger.Info("ledger admin action", "actor", actor, "action", action, "detail", detail, "at", s.now())
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateAuditEntry(domain.AuditEntry{Actor: actor, Action: action, Detail: detail, At: s.now()})
		return err
	})
	if err != nil {
		s.logger.Error("audit entry not written", "actor", actor, "action", action, "error", err)
	}
}

// ResetHousePoints deletes every ledger entry after recording who asked for
// it. The deletion is irreversible without a backup. Returns the number of
// entries removed.
func (s *Service) ResetHousePoints(ctx context.Context, actor string) (int, error) {
	var removed int
	err := s.run(ctx, "reset_house_points", func(ctx context.Context) error {
		actor = strings.TrimSpace(actor)
		if actor == "" {
			return domain.Validationf("reset requires an actor")
		}
		s.audit(ctx, actor, AuditActionResetHousePoints, "")
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			removed, err = tx.DeleteHousePoints(domain.HousePointsFilter{})
			return err
		})
		return translateStoreError(err)
	})
	if err == nil {
		s.logger.Warn("house points reset", "actor", actor, "removed", removed)
	}
	return removed, err
}

// BackupHousePoints serializes the ledger, writes it to the latest slot
// (overwritten) and to a new history slot, and returns the document. A failed
// history write is logged and does not fail the backup.
func (s *Service) BackupHousePoints(ctx context.Context) (string, error) {
	var doc string
	err := s.run(ctx, "backup_house_points", func(ctx context.Context) error {
		snap := HousePointsSnapshot{Data: []domain.HousePointsEntry{}}
		err := s.store.View(ctx, func(view domain.TransactionView) error {
			snap.Data = append(snap.Data, view.ListHousePoints(domain.HousePointsFilter{})...)
			return nil
		})
		if err != nil {
			return translateStoreError(err)
		}
		taken := s.now()
		snap.Timestamp = taken.Format(time.RFC3339Nano)
		payload, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		doc = string(payload)

		opts := blob.PutOptions{
			ContentType: "application/json",
			Metadata:    map[string]string{"entries": strconv.Itoa(len(snap.Data)), "timestamp": snap.Timestamp},
		}
		latest := opts
		latest.Overwrite = true
		if _, err := s.blobs.Put(ctx, BackupLatestKey, bytes.NewReader(payload), latest); err != nil {
			return fmt.Errorf("%w: write %s: %v", domain.ErrStoreUnavailable, BackupLatestKey, err)
		}
		historyKey := BackupHistoryPrefix + taken.Format("20060102T150405.000000000Z") + "-" + uuid.NewString() + ".json"
		if _, err := s.blobs.Put(ctx, historyKey, bytes.NewReader(payload), opts); err != nil {
			s.logger.Error("history backup not written", "key", historyKey, "error", err)
		}
		return nil
	})
	return doc, err
}

// LatestBackup returns the document in the latest backup slot.
func (s *Service) LatestBackup(ctx context.Context) (string, error) {
	var doc string
	err := s.run(ctx, "latest_backup", func(ctx context.Context) error {
		var err error
		doc, err = s.readBackup(ctx, BackupLatestKey)
		return err
	})
	return doc, err
}

// ReadBackup returns the document stored under key.
func (s *Service) ReadBackup(ctx context.Context, key string) (string, error) {
	var doc string
	err := s.run(ctx, "read_backup", func(ctx context.Context) error {
		var err error
		doc, err = s.readBackup(ctx, key)
		return err
	})
	return doc, err
}

func (s *Service) readBackup(ctx context.Context, key string) (string, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return "", fmt.Errorf("%w: no backup at %s", domain.ErrInvalidSnapshot, key)
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return string(b), nil
}

// ListBackups returns the history slots, oldest first.
func (s *Service) ListBackups(ctx context.Context) ([]blob.Info, error) {
	var infos []blob.Info
	err := s.run(ctx, "list_backups", func(ctx context.Context) error {
		var err error
		infos, err = s.blobs.List(ctx, BackupHistoryPrefix)
		if err != nil {
			return fmt.Errorf("%w: list backups: %v", domain.ErrStoreUnavailable, err)
		}
		return nil
	})
	return infos, err
}

// RestoreHousePoints resets the ledger and re-inserts every entry of a backup
// document as a new row, in one transaction. Points awarded after the backup
// was taken are discarded.
func (s *Service) RestoreHousePoints(ctx context.Context, actor, raw string) (int, error) {
	var restored int
	err := s.run(ctx, "restore_house_points", func(ctx context.Context) error {
		actor = strings.TrimSpace(actor)
		if actor == "" {
			return domain.Validationf("restore requires an actor")
		}
		snap, err := ParseHousePointsSnapshot(raw)
		if err != nil {
			return err
		}
		s.audit(ctx, actor, AuditActionRestoreHousePoints, fmt.Sprintf("snapshot %s with %d entries", snap.Timestamp, len(snap.Data)))
		now := s.now()
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if _, err := tx.DeleteHousePoints(domain.HousePointsFilter{}); err != nil {
				return err
			}
			for _, e := range snap.Data {
				entry := domain.HousePointsEntry{House: strings.TrimSpace(e.House), Points: e.Points, RaceID: e.RaceID, CreatedAt: e.CreatedAt}
				if entry.CreatedAt.IsZero() {
					entry.CreatedAt = now
				}
				if _, err := tx.CreateHousePoints(entry); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return translateStoreError(err)
		}
		restored = len(snap.Data)
		return nil
	})
	if err == nil {
		s.logger.Warn("house points restored", "actor", actor, "entries", restored)
	}
	return restored, err
}

// ListAuditEntries returns the administrative audit trail, oldest first.
func (s *Service) ListAuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := s.run(ctx, "list_audit_entries", func(ctx context.Context) error {
		return translateStoreError(s.store.View(ctx, func(view domain.TransactionView) error {
			entries = view.ListAuditEntries()
			return nil
		}))
	})
	return entries, err
}
