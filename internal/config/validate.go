// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package config

import "fmt"

// Validate checks structural invariants the loader can't express through
// defaults alone.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Tracker.MinVotes < 1 {
		return fmt.Errorf("config: tracker.min_votes must be >= 1")
	}
	if c.Tracker.SimilarityThreshold <= 0 || c.Tracker.SimilarityThreshold > 1 {
		return fmt.Errorf("config: tracker.similarity_threshold must be in (0,1]")
	}
	if c.Outbox.RetryCap < 1 {
		return fmt.Errorf("config: outbox.retry_cap must be >= 1")
	}
	if c.Fee.PerHour < 0 || c.Fee.BaseHours < 0 {
		return fmt.Errorf("config: fee values must be non-negative")
	}
	for _, p := range c.PeerCentrals {
		if p.ID == "" {
			return fmt.Errorf("config: peer_centrals entry missing id")
		}
	}
	return nil
}

// ResolveSelfIP substitutes the given auto-detected IP into
// ThisCentral.IP when it is empty, "auto" or the loopback placeholder,
// per §6's configuration rule.
func (c *Config) ResolveSelfIP(detected string) {
	switch c.ThisCentral.IP {
	case "", "auto", "127.0.0.1":
		c.ThisCentral.IP = detected
	}
}
