// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/parkfabric/internal/model"
)

// AppendEntry inserts a new IN row for row.PlateID, after asserting no
// live IN row for the same plate exists (invariant 1). On violation it
// returns ErrAlreadyInside along with the conflicting event_id.
func (s *Store) AppendEntry(ctx context.Context, row model.HistoryRow) (model.HistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.findInParkingLocked(ctx, row.PlateID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.HistoryRow{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if err == nil {
		return existing, fmt.Errorf("%w: event_id=%s", ErrAlreadyInside, existing.EventID)
	}

	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	row.InParking = true
	if row.PlateView == "" {
		row.PlateView = row.PlateID
	}
	if row.SyncStatus == "" {
		row.SyncStatus = "LOCAL"
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO history (event_id, lot_id, entry_camera_id, plate_id, plate_view, entry_time, status, sync_status, source_central, edge_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'IN', ?, ?, ?, ?, ?)
	`, row.EventID, nullIfEmpty(row.LotID), nullIfEmpty(row.CameraID), row.PlateID, row.PlateView, row.EntryTime, row.SyncStatus,
		nullIfEmpty(row.SourceCentral), nullIfEmpty(row.EdgeID), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return model.HistoryRow{}, fmt.Errorf("%w: insert entry: %v", ErrStore, err)
	}
	return row, nil
}

// CompleteExit updates the most recent live IN row for plateID with exit
// fields, returning false if no live IN row exists.
func (s *Store) CompleteExit(ctx context.Context, plateID string, exitTime time.Time, durationSec int64, fee float64) (model.HistoryRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.findInParkingLocked(ctx, plateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.HistoryRow{}, false, nil
		}
		return model.HistoryRow{}, false, fmt.Errorf("%w: %v", ErrStore, err)
	}

	_, err = s.conn.ExecContext(ctx, `
		UPDATE history SET exit_time = ?, duration_seconds = ?, fee = ?, status = 'OUT', updated_at = ?
		WHERE event_id = ?
	`, exitTime, durationSec, fee, time.Now().UTC(), existing.EventID)
	if err != nil {
		return model.HistoryRow{}, false, fmt.Errorf("%w: update exit: %v", ErrStore, err)
	}

	existing.ExitTime = &exitTime
	existing.DurationSec = &durationSec
	existing.Fee = &fee
	existing.InParking = false
	return existing, true, nil
}

// FindInParking returns the live IN row for plateID, or ErrNotFound.
func (s *Store) FindInParking(ctx context.Context, plateID string) (model.HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findInParkingLocked(ctx, plateID)
}

func (s *Store) findInParkingLocked(ctx context.Context, plateID string) (model.HistoryRow, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM history
		WHERE plate_id = ? AND status = 'IN'
		ORDER BY entry_time DESC LIMIT 1
	`, plateID)
	h, err := rowToHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryRow{}, ErrNotFound
	}
	if err != nil {
		return model.HistoryRow{}, err
	}
	return h, nil
}

// FindByEventID returns the row for eventID, or ErrNotFound.
func (s *Store) FindByEventID(ctx context.Context, eventID string) (model.HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE event_id = ?`, eventID)
	h, err := rowToHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryRow{}, ErrNotFound
	}
	if err != nil {
		return model.HistoryRow{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return h, nil
}

// EventExists reports whether eventID is already present, the dedup
// primitive used by C4 and C7 before applying any inbound event.
func (s *Store) EventExists(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return count > 0, nil
}

// UpdateLocation updates last_location/last_location_time on the live IN
// row for plateID, returning false if no live IN row exists.
func (s *Store) UpdateLocation(ctx context.Context, plateID, location string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.findInParkingLocked(ctx, plateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStore, err)
	}

	_, err = s.conn.ExecContext(ctx, `
		UPDATE history SET last_location = ?, last_location_time = ?, updated_at = ? WHERE event_id = ?
	`, location, at, time.Now().UTC(), existing.EventID)
	if err != nil {
		return false, fmt.Errorf("%w: update location: %v", ErrStore, err)
	}
	return true, nil
}

// CreateFromParkingLot writes an anomaly IN row created by a PARKING_LOT
// camera observing a plate that is not otherwise IN.
func (s *Store) CreateFromParkingLot(ctx context.Context, eventID, plateID, lotID, location string, at time.Time) (model.HistoryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO history (event_id, lot_id, plate_id, plate_view, entry_time, status, sync_status, is_anomaly, last_location, last_location_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'IN', 'P2P', true, ?, ?, ?, ?)
	`, eventID, nullIfEmpty(lotID), plateID, plateID, at, location, at, now, now)
	if err != nil {
		return model.HistoryRow{}, fmt.Errorf("%w: insert anomaly: %v", ErrStore, err)
	}

	return model.HistoryRow{
		EventID:   eventID,
		PlateID:   plateID,
		LotID:     lotID,
		EntryTime: at,
		InParking: true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateHistoryEntry applies an administrative plate correction and
// writes a matching HistoryChange audit row inside the same writer-lock
// critical section.
func (s *Store) UpdateHistoryEntry(ctx context.Context, eventID, newPlateID, newPlateView, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.findByEventIDLocked(ctx, eventID)
	if err != nil {
		return err
	}

	beforeJSON, _ := json.Marshal(before)
	after := before
	after.PlateID = newPlateID

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE history SET plate_id = ?, plate_view = ?, updated_at = ? WHERE event_id = ?`,
		newPlateID, newPlateView, time.Now().UTC(), eventID); err != nil {
		return fmt.Errorf("%w: update plate: %v", ErrStore, err)
	}

	afterJSON, _ := json.Marshal(after)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history_changes (event_id, action, before_json, after_json, changed_by, changed_at)
		VALUES (?, 'update', ?, ?, ?, ?)
	`, eventID, string(beforeJSON), string(afterJSON), changedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: insert audit: %v", ErrStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

// DeleteHistoryEntry removes a row by event_id and writes a matching
// HistoryChange audit row inside the same transaction.
func (s *Store) DeleteHistoryEntry(ctx context.Context, eventID, changedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteHistoryEntryLocked(ctx, eventID, changedBy, true)
}

// DeleteConflictLosingEntry removes a row without an audit trail: used by
// the conflict resolver (C10), which explicitly carries no audit row for
// the losing entry in a cross-central tie-break.
func (s *Store) DeleteConflictLosingEntry(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteHistoryEntryLocked(ctx, eventID, "", false)
}

func (s *Store) deleteHistoryEntryLocked(ctx context.Context, eventID, changedBy string, audit bool) error {
	before, err := s.findByEventIDLocked(ctx, eventID)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStore, err)
	}

	if audit {
		beforeJSON, _ := json.Marshal(before)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history_changes (event_id, action, before_json, after_json, changed_by, changed_at)
			VALUES (?, 'delete', ?, NULL, ?, ?)
		`, eventID, string(beforeJSON), changedBy, time.Now().UTC()); err != nil {
			return fmt.Errorf("%w: insert audit: %v", ErrStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStore, err)
	}
	return nil
}

func (s *Store) findByEventIDLocked(ctx context.Context, eventID string) (model.HistoryRow, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM history WHERE event_id = ?`, eventID)
	h, err := rowToHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryRow{}, fmt.Errorf("%w: event_id=%s", ErrNotFound, eventID)
	}
	if err != nil {
		return model.HistoryRow{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return h, nil
}

// GetUnsyncedSince returns up to limit rows created or updated after
// sinceUnixMS, oldest first, for the sync manager's (C11) SYNC_RESPONSE
// payload: catch-up for a peer that was offline since that timestamp.
func (s *Store) GetUnsyncedSince(ctx context.Context, sinceUnixMS int64, limit int) ([]model.HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := time.UnixMilli(sinceUnixMS).UTC()
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM history
		WHERE updated_at > ?
		ORDER BY updated_at ASC LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []model.HistoryRow
	for rows.Next() {
		h, err := rowToHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetUnsyncedLogs returns up to limit rows authored locally and not yet
// marked synced, oldest first. The edge outbox (C12) does not call it; it
// drains the internal/wal store instead.
func (s *Store) GetUnsyncedLogs(ctx context.Context, limit int) ([]model.HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM history
		WHERE sync_status = 'LOCAL' AND synced_at IS NULL
		ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []model.HistoryRow
	for rows.Next() {
		h, err := rowToHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkSynced flags a row as synchronized with its central.
func (s *Store) MarkSynced(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `UPDATE history SET sync_status = 'SYNCED', synced_at = ? WHERE event_id = ?`, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("%w: mark synced: %v", ErrStore, err)
	}
	return nil
}

// IncrementRetry bumps the retry counter for a row awaiting sync.
func (s *Store) IncrementRetry(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `UPDATE history SET retry_count = retry_count + 1, updated_at = ? WHERE event_id = ?`, time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("%w: increment retry: %v", ErrStore, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
