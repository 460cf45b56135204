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

	"github.com/tomtom215/parkfabric/internal/model"
)

// UpsertCamera registers a camera or refreshes its last-seen timestamp,
// backing the supplemented heartbeat/liveness feature.
func (s *Store) UpsertCamera(ctx context.Context, cam model.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO cameras (camera_id, lot_id, camera_type, label, status, last_seen, registered_at)
		VALUES (?, ?, ?, ?, 'online', ?, ?)
		ON CONFLICT (camera_id) DO UPDATE SET
			lot_id = excluded.lot_id, camera_type = excluded.camera_type,
			label = excluded.label, status = 'online', last_seen = excluded.last_seen
	`, cam.CameraID, nullIfEmpty(cam.LotID), string(cam.CameraType), cam.Label, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert camera: %v", ErrStore, err)
	}
	return nil
}

// MarkCamerasOffline flips any camera whose last_seen is older than
// staleAfter to status=offline, returning the number of rows affected.
// This backs the background offline-sweep restored from original_source.
func (s *Store) MarkCamerasOffline(ctx context.Context, staleAfter time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.conn.ExecContext(ctx, `
		UPDATE cameras SET status = 'offline' WHERE status = 'online' AND last_seen < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: mark offline: %v", ErrStore, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListCameras returns all registered cameras.
func (s *Store) ListCameras(ctx context.Context) ([]model.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT camera_id, lot_id, camera_type, label, last_seen, registered_at FROM cameras`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []model.Camera
	for rows.Next() {
		var c model.Camera
		var lotID, label sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(&c.CameraID, &lotID, &c.CameraType, &label, &lastSeen, &c.RegisteredAt); err != nil {
			return nil, fmt.Errorf("%w: scan camera: %v", ErrStore, err)
		}
		c.LotID = lotID.String
		c.Label = label.String
		if lastSeen.Valid {
			c.LastSeen = lastSeen.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertParkingLot creates or updates a ParkingLot row, backing the
// restored POST/PUT /api/parking/lots surface and PARKING_LOT_CONFIG
// gossip.
func (s *Store) UpsertParkingLot(ctx context.Context, lot model.ParkingLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO parking_lots (lot_id, name, capacity, fee_base_hours, fee_per_hour, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (lot_id) DO UPDATE SET
			name = excluded.name, capacity = excluded.capacity,
			fee_base_hours = excluded.fee_base_hours, fee_per_hour = excluded.fee_per_hour,
			updated_at = excluded.updated_at
	`, lot.LotID, lot.Name, lot.Capacity, lot.FeeBase, lot.FeePerHour, now)
	if err != nil {
		return fmt.Errorf("%w: upsert lot: %v", ErrStore, err)
	}
	return nil
}

// GetParkingLot returns one lot by id, or ErrNotFound.
func (s *Store) GetParkingLot(ctx context.Context, lotID string) (model.ParkingLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l model.ParkingLot
	err := s.conn.QueryRowContext(ctx, `SELECT lot_id, name, capacity, fee_base_hours, fee_per_hour, updated_at FROM parking_lots WHERE lot_id = ?`, lotID).
		Scan(&l.LotID, &l.Name, &l.Capacity, &l.FeeBase, &l.FeePerHour, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ParkingLot{}, ErrNotFound
	}
	if err != nil {
		return model.ParkingLot{}, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return l, nil
}

// ListParkingLots returns all known lots.
func (s *Store) ListParkingLots(ctx context.Context) ([]model.ParkingLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT lot_id, name, capacity, fee_base_hours, fee_per_hour, updated_at FROM parking_lots`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()

	var out []model.ParkingLot
	for rows.Next() {
		var l model.ParkingLot
		if err := rows.Scan(&l.LotID, &l.Name, &l.Capacity, &l.FeeBase, &l.FeePerHour, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan lot: %v", ErrStore, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountInParking returns the number of IN rows for a given lot, used to
// compute occupancy for GET /api/parking/occupancy.
func (s *Store) CountInParking(ctx context.Context, lotID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE lot_id = ? AND status = 'IN'`, lotID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return count, nil
}

// SyncState returns the last-seen-from-peer timestamp used by C11 to
// issue a SYNC_REQUEST, defaulting to zero for a peer never synced
// before.
func (s *Store) SyncState(ctx context.Context, peerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ts int64
	err := s.conn.QueryRowContext(ctx, `SELECT last_seen_timestamp FROM p2p_sync_state WHERE peer_id = ?`, peerID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return ts, nil
}

// UpdateSyncState advances last_seen_from_peer to the max of its current
// value and ts.
func (s *Store) UpdateSyncState(ctx context.Context, peerID string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO p2p_sync_state (peer_id, last_seen_timestamp, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (peer_id) DO UPDATE SET
			last_seen_timestamp = CASE WHEN excluded.last_seen_timestamp > p2p_sync_state.last_seen_timestamp
				THEN excluded.last_seen_timestamp ELSE p2p_sync_state.last_seen_timestamp END,
			updated_at = excluded.updated_at
	`, peerID, ts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: update sync state: %v", ErrStore, err)
	}
	return nil
}

// ListHistory returns rows ordered newest-first, applying the filters
// used by GET /api/parking/history.
type HistoryFilter struct {
	TodayOnly     bool
	Status        string
	InParkingOnly bool
	EntriesOnly   bool
	Search        string
	Limit         int
	Offset        int
}

// ListHistory returns history rows matching f.
func (s *Store) ListHistory(ctx context.Context, f HistoryFilter) ([]model.HistoryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + historyColumns + ` FROM history WHERE 1=1`
	var args []any

	if f.TodayOnly {
		query += ` AND entry_time >= date_trunc('day', current_timestamp)`
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.InParkingOnly {
		query += ` AND status = 'IN'`
	}
	if f.EntriesOnly {
		query += ` AND exit_time IS NULL`
	}
	if f.Search != "" {
		query += ` AND plate_id LIKE ?`
		args = append(args, "%"+f.Search+"%")
	}
	query += ` ORDER BY entry_time DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
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
