// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package fee computes parking fees and caches the fee parameters
// loaded from an external source for up to the configured TTL, per
// §4.4's fee model. Grounded on internal/config's FeeConfig and the
// reference implementation's 60-second fee-table refresh.
package fee

import (
	"math"
	"sync"
	"time"
)

// Params is the fee schedule: no charge for the first BaseHours, then
// PerHour charged for each hour (rounded up) beyond it.
type Params struct {
	BaseHours float64
	PerHour   float64
}

// Source loads fee parameters from wherever they are authoritative
// (static config today; a pluggable external endpoint per §4.4 later).
// A Source implementation that cannot reach its backing store should
// return the last known-good Params and a non-nil error; Cache falls
// back to the previous value on a refresh error rather than serving a
// zero-valued fee schedule.
type Source interface {
	Load() (Params, error)
}

// StaticSource always returns a fixed Params, the default when no
// external fee source URL is configured.
type StaticSource struct {
	Params Params
}

// Load implements Source.
func (s StaticSource) Load() (Params, error) {
	return s.Params, nil
}

// Cache memoizes a Source's Params for ttl, refreshing lazily on
// access rather than via a background ticker, matching the reference
// implementation's request-time cache check.
type Cache struct {
	src Source
	ttl time.Duration

	mu        sync.Mutex
	params    Params
	fetchedAt time.Time
	haveValue bool
}

// NewCache constructs a fee cache around src with the given refresh TTL.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{src: src, ttl: ttl}
}

// Params returns the current fee parameters, refreshing from the
// source if the cache is empty or stale.
func (c *Cache) Params(now time.Time) Params {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveValue && now.Sub(c.fetchedAt) < c.ttl {
		return c.params
	}

	p, err := c.src.Load()
	if err != nil {
		if c.haveValue {
			return c.params
		}
		return p
	}

	c.params = p
	c.fetchedAt = now
	c.haveValue = true
	return c.params
}

// Compute applies the fee model: free for the first p.BaseHours, then
// p.PerHour charged per hour (rounded up) for the remainder.
func Compute(p Params, entry, exit time.Time) (durationSec int64, fee float64) {
	d := exit.Sub(entry)
	durationSec = int64(d.Seconds())
	hours := d.Hours()
	if hours <= p.BaseHours {
		return durationSec, 0
	}
	billableHours := math.Ceil(hours - p.BaseHours)
	return durationSec, billableHours * p.PerHour
}
