// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package store implements the persistent history store (C3): a
// DuckDB-backed, single-writer table of parking sessions, cameras,
// parking lots, admin audit rows and peer sync state. It is grounded on
// the teacher's internal/database wrapper — the embedded-DuckDB
// constructor shape (preload extensions, tuned connection string,
// checkpoint-before-close) is reused and retargeted at the parking
// schema instead of the media-analytics one.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
)

// Config controls how the embedded database file is opened.
type Config struct {
	Path                   string
	Threads                int
	MaxMemory              string
	PreserveInsertionOrder bool
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		Path:                   "data/parkfabric.duckdb",
		MaxMemory:              "2GB",
		PreserveInsertionOrder: true,
	}
}

// Store is the persistent history store. All mutations serialize on mu;
// readers acquire a read-lock, matching §5's single-writer-lock
// discipline.
type Store struct {
	conn *sql.DB
	cfg  Config
	mu   sync.RWMutex
}

// Open creates the database file's parent directory if needed, opens the
// embedded DuckDB connection with a tuned connection string, and runs
// schema migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("store: create data dir %s: %w", dir, err)
			}
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "2GB"
	}
	preserve := "true"
	if !cfg.PreserveInsertionOrder {
		preserve = "false"
	}

	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory, preserve,
	)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	conn.SetMaxOpenConns(1) // single-writer discipline: one physical connection

	s := &Store{conn: conn, cfg: cfg}
	if err := s.migrate(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	return s, nil
}

func closeQuietly(c *sql.DB) {
	if c != nil {
		_ = c.Close()
	}
}

// Close checkpoints the WAL to the main database file and closes the
// connection, mirroring the teacher's checkpoint-before-close discipline.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("store: checkpoint before close failed")
	}
	return s.conn.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS history (
	id BIGINT PRIMARY KEY DEFAULT nextval('history_id_seq'),
	event_id VARCHAR UNIQUE NOT NULL,
	source_central VARCHAR,
	edge_id VARCHAR,
	plate_id VARCHAR NOT NULL,
	plate_view VARCHAR NOT NULL,
	lot_id VARCHAR,
	entry_time TIMESTAMP NOT NULL,
	entry_camera_id VARCHAR,
	exit_time TIMESTAMP,
	exit_camera_id VARCHAR,
	duration_seconds BIGINT,
	fee DOUBLE,
	status VARCHAR NOT NULL DEFAULT 'IN',
	sync_status VARCHAR NOT NULL DEFAULT 'LOCAL',
	last_location VARCHAR,
	last_location_time TIMESTAMP,
	is_anomaly BOOLEAN NOT NULL DEFAULT false,
	synced_at TIMESTAMP,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT current_timestamp,
	updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);

CREATE TABLE IF NOT EXISTS cameras (
	camera_id VARCHAR PRIMARY KEY,
	lot_id VARCHAR,
	camera_type VARCHAR NOT NULL,
	label VARCHAR,
	status VARCHAR NOT NULL DEFAULT 'online',
	last_seen TIMESTAMP,
	registered_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);

CREATE TABLE IF NOT EXISTS parking_lots (
	lot_id VARCHAR PRIMARY KEY,
	name VARCHAR NOT NULL,
	capacity INTEGER NOT NULL DEFAULT 0,
	fee_base_hours DOUBLE NOT NULL DEFAULT 0.5,
	fee_per_hour DOUBLE NOT NULL DEFAULT 25000,
	updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);

CREATE TABLE IF NOT EXISTS history_changes (
	change_id BIGINT PRIMARY KEY DEFAULT nextval('history_changes_id_seq'),
	event_id VARCHAR NOT NULL,
	action VARCHAR NOT NULL,
	before_json VARCHAR,
	after_json VARCHAR,
	changed_by VARCHAR,
	changed_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);

CREATE TABLE IF NOT EXISTS p2p_sync_state (
	peer_id VARCHAR PRIMARY KEY,
	last_seen_timestamp BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT current_timestamp
);
`

func (s *Store) migrate() error {
	ctx := context.Background()
	if _, err := s.conn.ExecContext(ctx, "CREATE SEQUENCE IF NOT EXISTS history_id_seq"); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, "CREATE SEQUENCE IF NOT EXISTS history_changes_id_seq"); err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, schemaDDL); err != nil {
		return err
	}
	return nil
}

// rowToHistory scans one history row into a model.HistoryRow.
func rowToHistory(rows rowScanner) (model.HistoryRow, error) {
	var h model.HistoryRow
	var exitTime, syncedAt, lastLocationTime sql.NullTime
	var duration sql.NullInt64
	var fee sql.NullFloat64
	var lotID, cameraID, sourceCentral, edgeID, lastLocation sql.NullString

	err := rows.Scan(
		&h.EventID, &sourceCentral, &edgeID, &lotID, &cameraID, &h.PlateID, &h.PlateView,
		&h.EntryTime, &exitTime, &duration, &fee, &h.InParking, &h.SyncStatus,
		&lastLocation, &lastLocationTime, &h.IsAnomaly,
		&syncedAt, &h.RetryCount, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return model.HistoryRow{}, err
	}
	if lotID.Valid {
		h.LotID = lotID.String
	}
	if cameraID.Valid {
		h.CameraID = cameraID.String
	}
	if sourceCentral.Valid {
		h.SourceCentral = sourceCentral.String
	}
	if edgeID.Valid {
		h.EdgeID = edgeID.String
	}
	if lastLocation.Valid {
		h.LastLocation = lastLocation.String
	}
	if exitTime.Valid {
		t := exitTime.Time
		h.ExitTime = &t
	}
	if duration.Valid {
		h.DurationSec = &duration.Int64
	}
	if fee.Valid {
		h.Fee = &fee.Float64
	}
	if lastLocationTime.Valid {
		t := lastLocationTime.Time
		h.LastLocationTime = &t
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		h.SyncedAt = &t
	}
	return h, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const historyColumns = `event_id, source_central, edge_id, lot_id, entry_camera_id, plate_id, plate_view,
	entry_time, exit_time, duration_seconds, fee, status = 'IN', sync_status,
	last_location, last_location_time, is_anomaly, synced_at, retry_count, created_at, updated_at`
