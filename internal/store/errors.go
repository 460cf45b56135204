// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package store

import "errors"

// Value-typed errors per the store's state-error and persistence-error
// taxonomy (§7). Callers compare with errors.Is, never type-switch on
// concrete error values.
var (
	// ErrAlreadyInside is returned by AppendEntry when invariant 1 (at
	// most one live IN row per plate) would be violated.
	ErrAlreadyInside = errors.New("store: plate already inside")

	// ErrNoEntry is returned when an EXIT or location update is applied
	// to a plate with no live IN row.
	ErrNoEntry = errors.New("store: no matching entry in parking")

	// ErrNotFound is returned when a row lookup by id or event_id comes
	// up empty.
	ErrNotFound = errors.New("store: row not found")

	// ErrStore wraps unexpected persistence-layer failures. The
	// triggering mutation is aborted; outbox entries, if any, remain
	// for retry.
	ErrStore = errors.New("store: persistence error")
)
