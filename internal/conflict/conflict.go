// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package conflict implements the deterministic cross-central conflict
// resolver (C10): when two centrals independently create an ENTRY row for
// the same plate_id before gossip converges them, exactly one survives.
// Grounded directly on the reference event handler's _resolve_conflict:
// the tie-break compares the unix-ms timestamp embedded in each
// event_id, not wall-clock entry_time, deliberately preserved per the
// spec's design notes (§9).
package conflict

import (
	"context"
	"fmt"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/model"
)

// Store is the subset of internal/store's HistoryStore this resolver
// needs, declared locally so conflict has no import-time dependency on
// the store package's DuckDB driver.
type Store interface {
	DeleteConflictLosingEntry(ctx context.Context, eventID string) error
}

// Outcome reports what the resolver decided.
type Outcome int

const (
	// KeepLocal means the existing row is retained and the incoming
	// event must not be inserted.
	KeepLocal Outcome = iota
	// ReplaceWithIncoming means the existing row was deleted and the
	// caller must now insert the incoming event.
	ReplaceWithIncoming
)

// Resolve decides between an existing local IN row and an incoming
// ENTRY event proposing the same plate_id. Per §4.10:
//   - if existing has no event_id (legacy pre-P2P row), keep local.
//   - if either timestamp is unparsable, keep local.
//   - otherwise the older timestamp wins; if the incoming event is
//     older, the existing row is deleted (no audit row) and the caller
//     inserts the incoming event.
func Resolve(ctx context.Context, st Store, existing model.HistoryRow, incomingEventID string) (Outcome, error) {
	if existing.EventID == "" {
		return KeepLocal, nil
	}

	existingTS, ok := envelope.ParseEventTimestamp(existing.EventID)
	if !ok {
		return KeepLocal, nil
	}
	incomingTS, ok := envelope.ParseEventTimestamp(incomingEventID)
	if !ok {
		return KeepLocal, nil
	}

	if incomingTS < existingTS {
		if err := st.DeleteConflictLosingEntry(ctx, existing.EventID); err != nil {
			return KeepLocal, fmt.Errorf("conflict: delete losing entry: %w", err)
		}
		return ReplaceWithIncoming, nil
	}

	return KeepLocal, nil
}
