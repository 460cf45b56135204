// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order. The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/parkfabric/config.yaml",
	"/etc/parkfabric/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the Config via defaults -> optional YAML file -> environment
// variables, in that precedence order (ENV wins).
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("PARKFABRIC_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps PARKFABRIC_THIS_CENTRAL_ID style variables to the
// dotted koanf path this_central.id, following the teacher's
// underscore-to-dot convention.
func envTransformFunc(key string) string {
	key = strings.TrimPrefix(key, "PARKFABRIC_")
	key = strings.ToLower(key)

	mappings := map[string]string{
		"this_central_id":       "this_central.id",
		"this_central_ip":       "this_central.ip",
		"this_central_api_port": "this_central.api_port",
		"database_path":         "database.path",
		"database_max_memory":   "database.max_memory",
		"server_host":           "server.host",
		"server_port":           "server.port",
		"tracker_window_seconds":        "tracker.window_seconds",
		"tracker_min_votes":             "tracker.min_votes",
		"tracker_similarity_threshold":  "tracker.similarity_threshold",
		"tracker_dedup_interval":        "tracker.dedup_interval",
		"fee_base_hours":        "fee.base_hours",
		"fee_per_hour":          "fee.per_hour",
		"fee_source_url":        "fee.source_url",
		"outbox_batch_size":     "outbox.batch_size",
		"outbox_retry_cap":      "outbox.retry_cap",
		"outbox_drain_interval": "outbox.drain_interval",
		"outbox_wal_dir":        "outbox.wal_dir",
		"channel_heartbeat_interval": "channel.heartbeat_interval",
		"channel_reconnect_backoff":  "channel.reconnect_backoff",
		"logging_level":  "logging.level",
		"logging_format": "logging.format",
	}

	if mapped, ok := mappings[key]; ok {
		return mapped
	}
	return strings.ReplaceAll(key, "_", ".")
}
