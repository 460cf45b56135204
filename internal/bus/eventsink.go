// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

package bus

import (
	"time"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/logging"
)

// EventSink publishes every applied ingestion result onto SubjectEvents,
// satisfying internal/ingest.EventSink. It is a secondary, best-effort
// audit channel alongside the primary, synchronous wsfanout/gossip path
// - a failed publish is logged, never propagated back to the caller that
// applied the event.
type EventSink struct {
	bus       *Bus
	centralID string
}

// NewEventSink wraps bus as an ingest.EventSink for centralID.
func NewEventSink(bus *Bus, centralID string) *EventSink {
	return &EventSink{bus: bus, centralID: centralID}
}

// PublishEvent implements internal/ingest.EventSink.
func (s *EventSink) PublishEvent(result ingest.Result) {
	env := envelope.Envelope{
		Type:          result.Kind,
		SourceCentral: s.centralID,
		Timestamp:     time.Now().UnixMilli(),
		EventID:       result.EventID,
	}
	if err := s.bus.Publish(SubjectEvents, &env); err != nil {
		logging.Warn().Str("event_id", result.EventID).Err(err).Msg("bus: failed to publish audit event")
	}
}
