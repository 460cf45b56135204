// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package config loads Parkfabric's configuration via a layered
// knadh/koanf/v2 pipeline: programmatic defaults, then an optional
// config.yaml, then environment variables, matching the teacher's
// defaults-then-file-then-env precedence.
package config

import "time"

// PeerConfig describes one known peer central, loaded from the
// peer_centrals list (§4.5/§6).
type PeerConfig struct {
	ID      string `koanf:"id"`
	IP      string `koanf:"ip"`
	APIPort int    `koanf:"api_port"`
}

// ThisCentralConfig describes this process's own identity within the
// mesh.
type ThisCentralConfig struct {
	ID      string `koanf:"id"`
	IP      string `koanf:"ip"`
	APIPort int    `koanf:"api_port"`
}

// DatabaseConfig controls the embedded DuckDB history store.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	CORSAllowedOrigins []string      `koanf:"cors_allowed_origins"`
	RateLimitDisabled  bool          `koanf:"rate_limit_disabled"`
}

// TrackerConfig controls the edge plate voting tracker (C2).
type TrackerConfig struct {
	WindowSeconds       float64       `koanf:"window_seconds"`
	MinVotes            int           `koanf:"min_votes"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
	DedupInterval       time.Duration `koanf:"dedup_interval"`
}

// FeeConfig controls the fee model and its external-source cache (§4.4).
type FeeConfig struct {
	BaseHours   float64       `koanf:"base_hours"`
	PerHour     float64       `koanf:"per_hour"`
	SourceURL   string        `koanf:"source_url"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
}

// EdgeCameraConfig describes one camera attached to an edge node: which
// parking lot it covers and which of the three roles (entry/exit/
// parking-lot) it plays in §4.4's dispatch table.
type EdgeCameraConfig struct {
	ID         string `koanf:"id"`
	LotID      string `koanf:"lot_id"`
	CameraType string `koanf:"camera_type"`
}

// EdgeConfig describes one edge node process: its identity, the central
// it reports to, its local OCR-ingest listener, and its attached cameras.
type EdgeConfig struct {
	ID         string             `koanf:"id"`
	CentralURL string             `koanf:"central_url"`
	ListenAddr string             `koanf:"listen_addr"`
	Cameras    []EdgeCameraConfig `koanf:"cameras"`
}

// OutboxConfig controls the edge outbox drain loop (C12).
type OutboxConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	RetryCap      int           `koanf:"retry_cap"`
	DrainInterval time.Duration `koanf:"drain_interval"`
	HTTPTimeout   time.Duration `koanf:"http_timeout"`
	WALDir        string        `koanf:"wal_dir"`
}

// ChannelConfig controls peer and edge duplex channel liveness (§4.6/§5).
type ChannelConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	KeepaliveTimeout  time.Duration `koanf:"keepalive_timeout"`
	ReconnectBackoff  time.Duration `koanf:"reconnect_backoff"`
	MissedBeatsUnhealthy int        `koanf:"missed_beats_unhealthy"`
}

// LoggingConfig controls internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Config is the root configuration object, unmarshaled from the layered
// koanf tree.
type Config struct {
	ThisCentral  ThisCentralConfig `koanf:"this_central"`
	PeerCentrals []PeerConfig      `koanf:"peer_centrals"`
	Database     DatabaseConfig    `koanf:"database"`
	Server       ServerConfig      `koanf:"server"`
	Tracker      TrackerConfig     `koanf:"tracker"`
	Fee          FeeConfig         `koanf:"fee"`
	Outbox       OutboxConfig      `koanf:"outbox"`
	Channel      ChannelConfig     `koanf:"channel"`
	Logging      LoggingConfig     `koanf:"logging"`
	Edge         EdgeConfig        `koanf:"edge"`
}

// defaultConfig returns the built-in default configuration, applied
// first in the load pipeline and overridden by file then env.
func defaultConfig() *Config {
	return &Config{
		ThisCentral: ThisCentralConfig{
			ID:      "",
			IP:      "auto",
			APIPort: 8080,
		},
		Database: DatabaseConfig{
			Path:                   "data/parkfabric.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: true,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    5 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			RateLimitDisabled:  false,
		},
		Tracker: TrackerConfig{
			WindowSeconds:       1.5,
			MinVotes:            2,
			SimilarityThreshold: 0.85,
			DedupInterval:       15 * time.Second,
		},
		Fee: FeeConfig{
			BaseHours: 0.5,
			PerHour:   25000,
			CacheTTL:  60 * time.Second,
		},
		Outbox: OutboxConfig{
			BatchSize:     50,
			RetryCap:      5,
			DrainInterval: 3 * time.Second,
			HTTPTimeout:   5 * time.Second,
			WALDir:        "data/outbox",
		},
		Channel: ChannelConfig{
			HeartbeatInterval:    30 * time.Second,
			KeepaliveTimeout:     10 * time.Second,
			ReconnectBackoff:     10 * time.Second,
			MissedBeatsUnhealthy: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Edge: EdgeConfig{
			ListenAddr: "0.0.0.0:8090",
		},
	}
}
