// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package envelope defines the wire format shared by the peer duplex
// channel (C6), the edge duplex channel (C8) and the gossip manager (C7).
// Every frame exchanged over those channels is one Envelope; this package
// is the single point where the tagged-union-over-JSON shape is declared,
// validated and (de)serialized with goccy/go-json for throughput.
package envelope

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Type is the wire message tag. Dispatch everywhere in this module is a
// single switch keyed on Type — there is no dynamic dispatch table.
type Type string

const (
	TypeVehicleEntryPending   Type = "VEHICLE_ENTRY_PENDING"
	TypeVehicleEntryConfirmed Type = "VEHICLE_ENTRY_CONFIRMED"
	TypeVehicleExit           Type = "VEHICLE_EXIT"
	TypeLocationUpdate        Type = "LOCATION_UPDATE"
	TypeParkingLotConfig      Type = "PARKING_LOT_CONFIG"
	TypeHistoryUpdate         Type = "HISTORY_UPDATE"
	TypeHistoryDelete         Type = "HISTORY_DELETE"
	TypeHeartbeat             Type = "HEARTBEAT"
	TypeSyncRequest           Type = "SYNC_REQUEST"
	TypeSyncResponse          Type = "SYNC_RESPONSE"
	TypeConnected             Type = "connected"
	TypePong                  Type = "pong"
	TypeError                 Type = "ERROR"
)

var knownTypes = map[Type]bool{
	TypeVehicleEntryPending:   true,
	TypeVehicleEntryConfirmed: true,
	TypeVehicleExit:           true,
	TypeLocationUpdate:        true,
	TypeParkingLotConfig:      true,
	TypeHistoryUpdate:         true,
	TypeHistoryDelete:         true,
	TypeHeartbeat:             true,
	TypeSyncRequest:           true,
	TypeSyncResponse:          true,
	TypeConnected:             true,
	TypePong:                  true,
	TypeError:                 true,
}

// ErrInvalidEnvelope is returned when a frame is missing a required field
// or carries an unrecognized type tag.
var ErrInvalidEnvelope = errors.New("envelope: invalid frame")

// ErrUnknownType is returned when the type tag is not in the message
// catalog.
var ErrUnknownType = errors.New("envelope: unknown message type")

// Envelope is the single wire frame shape exchanged over peer and edge
// duplex channels: { type, source_central, timestamp, event_id?, data }.
type Envelope struct {
	Type          Type            `json:"type"`
	SourceCentral string          `json:"source_central,omitempty"`
	SourcePeer    string          `json:"source_peer,omitempty"`
	SourceEdge    string          `json:"source_edge,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	EventID       string          `json:"event_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Origin identifies where a frame entered the fabric, used by the fan-out
// broadcaster (C9) to exclude the originating channel.
type Origin struct {
	Kind   OriginKind
	EdgeID string
	PeerID string
}

type OriginKind int

const (
	OriginLocal OriginKind = iota
	OriginEdge
	OriginPeer
)

func (o Origin) String() string {
	switch o.Kind {
	case OriginEdge:
		return "edge:" + o.EdgeID
	case OriginPeer:
		return "peer:" + o.PeerID
	default:
		return "local"
	}
}

// Validate checks that required fields are present and the type tag is
// known. It does not validate the shape of Data; per-handler decoding does
// that at the point of use.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	if !knownTypes[e.Type] {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.Timestamp == 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEnvelope)
	}
	return nil
}

// Marshal serializes the envelope using the module-wide fast JSON codec.
func Marshal(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a raw frame into an Envelope. A JSON syntax error here
// is the one case in which the channel layer tears down the connection
// (malformed framing); any other validation failure is answered in-band
// with a TypeError envelope and the channel stays open.
func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: malformed json: %w", err)
	}
	return e, nil
}

// NewEventID builds the canonical global dedup key for an ENTRY event:
// <central_id>_<unix_ms>_<plate_id>.
func NewEventID(centralID string, unixMS int64, plateID string) string {
	return centralID + "_" + strconv.FormatInt(unixMS, 10) + "_" + plateID
}

// ParseEventTimestamp extracts the unix-millisecond timestamp embedded in
// an event_id of the canonical shape. It returns false if the id does not
// have at least three underscore-separated segments or the middle segment
// is not an integer — this is the "unparsable" case the conflict resolver
// (C10) treats as keep-local.
func ParseEventTimestamp(eventID string) (int64, bool) {
	parts := strings.Split(eventID, "_")
	if len(parts) < 3 {
		return 0, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ErrorPayload is the Data shape used for TypeError response frames sent
// back to a channel peer on a validation or state error, per §7's
// propagation policy.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorEnvelope builds a TypeError frame answering an invalid or
// rejected inbound frame, echoing the originating event_id when present.
func NewErrorEnvelope(sourceCentral, eventID, code, message string, unixMS int64) (Envelope, error) {
	data, err := json.Marshal(ErrorPayload{Code: code, Message: message})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:          TypeError,
		SourceCentral: sourceCentral,
		Timestamp:     unixMS,
		EventID:       eventID,
		Data:          data,
	}, nil
}
