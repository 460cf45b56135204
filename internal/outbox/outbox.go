// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package outbox implements the edge outbox / backfill drain loop (C12).
// An edge node writes every committed plate sighting twice: once to its
// local history, once as a durable outbox entry. A drain loop claims the
// oldest unsynced entries, prefers the live duplex channel for delivery
// and falls back to an HTTP POST guarded by a circuit breaker, and
// retires entries on success. An entry that exceeds the retry cap is
// surfaced via a status signal rather than retried forever.
//
// Durability is borrowed wholesale from the reference BadgerDB
// write-ahead log (internal/wal): its entry/lease/claim shape already
// models exactly what an unsynced-row queue needs, so this package asks
// it for storage instead of reinventing a second BadgerDB wrapper.
package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/wal"
)

// MaxRetries caps automatic redelivery attempts per §4.12; a row that
// exceeds it is surfaced via Status rather than retried further.
const MaxRetries = 5

// DurableStore is the subset of *wal.BadgerWAL the drain loop needs:
// write-once, lease-claim-release, retry bookkeeping, and disposal.
// Satisfied by *wal.BadgerWAL when built with the "wal" tag; on the
// default build cmd/edge passes *wal.NoOpWAL, which stores nothing, so
// GetPending never returns entries.
type DurableStore interface {
	Write(ctx context.Context, event interface{}) (entryID string, err error)
	GetPending(ctx context.Context) ([]*wal.Entry, error)
	TryClaimEntryDurable(ctx context.Context, entryID, leaseHolder string) (bool, error)
	ReleaseLeaseDurable(ctx context.Context, entryID string) error
	UpdateAttempt(ctx context.Context, entryID string, lastError string) error
	DeleteEntry(ctx context.Context, entryID string) error
	Stats() wal.Stats
	Close() error
}

// Sender delivers one envelope over the edge's duplex channel to
// central. Healthy reports false when the channel is down; Send
// reports no error.
type Sender interface {
	Send(env envelope.Envelope)
	Healthy() bool
}

// Config controls drain pacing and the HTTP backfill fallback.
type Config struct {
	BatchSize     int
	DrainInterval time.Duration
	LeaseHolder   string
	CentralURL    string // base URL for the HTTP fallback, e.g. http://central:8080
	HTTPTimeout   time.Duration
	HMACKey       []byte // signs the Backfill-Signature header; empty disables signing
}

// entry is the payload persisted per outbox row, matching
// model.EdgeOutboxRow's fields plus the envelope it will eventually
// re-hydrate into on the central side.
type entry struct {
	EventID  string          `json:"event_id"`
	EdgeID   string          `json:"edge_id"`
	Envelope envelope.Envelope `json:"envelope"`
}

// Drainer is C12.
type Drainer struct {
	store   DurableStore
	sender  Sender
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
	client  *http.Client
}

// New constructs the outbox drainer. sender may be nil for an edge with
// no duplex channel configured, in which case delivery always falls
// through to HTTP.
func New(store DurableStore, sender Sender, cfg Config) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "outbox-backfill",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Drainer{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(10), cfg.BatchSize),
		breaker: breaker,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Enqueue durably records one committed plate event for delivery,
// alongside the edge's own local history write. Callers write local
// history first, then call Enqueue, so a crash between the two leaves
// at most a locally-visible row with nothing to backfill, never the
// reverse.
func (d *Drainer) Enqueue(ctx context.Context, edgeID string, env envelope.Envelope) (string, error) {
	id, err := d.store.Write(ctx, entry{EventID: env.EventID, EdgeID: edgeID, Envelope: env})
	if err != nil {
		return "", fmt.Errorf("outbox: enqueue: %w", err)
	}
	return id, nil
}

// Run drives the drain loop until ctx is canceled, claiming and
// delivering batches of unsynced rows at cfg.DrainInterval.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *Drainer) drainOnce(ctx context.Context) {
	pending, err := d.store.GetPending(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("outbox: failed to list pending entries")
		return
	}

	count := 0
	for _, e := range pending {
		if count >= d.cfg.BatchSize {
			break
		}
		if e.Attempts >= MaxRetries {
			continue // surfaced via Status, not retried
		}

		claimed, err := d.store.TryClaimEntryDurable(ctx, e.ID, d.cfg.LeaseHolder)
		if err != nil || !claimed {
			continue
		}
		count++

		if err := d.limiter.Wait(ctx); err != nil {
			_ = d.store.ReleaseLeaseDurable(ctx, e.ID)
			return
		}

		d.deliverOne(ctx, e)
	}
}

func (d *Drainer) deliverOne(ctx context.Context, e *wal.Entry) {
	var row entry
	if err := e.UnmarshalPayload(&row); err != nil {
		logging.Warn().Str("outbox_id", e.ID).Err(err).Msg("outbox: corrupt entry, discarding")
		_ = d.store.DeleteEntry(ctx, e.ID)
		return
	}

	if err := d.send(ctx, row); err != nil {
		logging.Warn().Str("outbox_id", e.ID).Str("event_id", row.EventID).Err(err).Msg("outbox: delivery failed, will retry")
		if uerr := d.store.UpdateAttempt(ctx, e.ID, err.Error()); uerr != nil {
			logging.Warn().Str("outbox_id", e.ID).Err(uerr).Msg("outbox: failed to record retry attempt")
		}
		_ = d.store.ReleaseLeaseDurable(ctx, e.ID)
		return
	}

	if err := d.store.DeleteEntry(ctx, e.ID); err != nil {
		logging.Warn().Str("outbox_id", e.ID).Err(err).Msg("outbox: delivered but failed to retire entry")
	}
}

// send prefers the live duplex channel; it falls back to an HTTP POST
// to central, guarded by a circuit breaker so a central outage trips
// the breaker instead of piling up slow failing requests.
func (d *Drainer) send(ctx context.Context, row entry) error {
	if d.sender != nil && d.sender.Healthy() {
		d.sender.Send(row.Envelope)
		return nil
	}

	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.postBackfill(ctx, row)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return fmt.Errorf("outbox: central backfill circuit open: %w", err)
		}
		return err
	}
	return nil
}

func (d *Drainer) postBackfill(ctx context.Context, row entry) error {
	if d.cfg.CentralURL == "" {
		return fmt.Errorf("outbox: no duplex channel and no central URL configured")
	}

	body, err := json.Marshal(row.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.CentralURL+"/api/edge/event", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Edge-ID", row.EdgeID)
	if sig := d.sign(body); sig != "" {
		req.Header.Set("X-Backfill-Signature", sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post backfill: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post backfill: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// sign HMAC-signs body with cfg.HMACKey, giving central a cheap
// integrity check on backfilled payloads. It is not a substitute for
// transport authentication, which remains out of scope.
func (d *Drainer) sign(body []byte) string {
	if len(d.cfg.HMACKey) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, d.cfg.HMACKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Status reports drain-loop health for GET /api/edge/status: current
// depth and how many rows have exhausted their retry budget.
type Status struct {
	PendingCount   int64
	ExhaustedCount int
}

// CurrentStatus inspects the durable queue without mutating it.
func (d *Drainer) CurrentStatus(ctx context.Context) (Status, error) {
	stats := d.store.Stats()
	pending, err := d.store.GetPending(ctx)
	if err != nil {
		return Status{}, err
	}
	exhausted := 0
	for _, e := range pending {
		if e.Attempts >= MaxRetries {
			exhausted++
		}
	}
	return Status{PendingCount: stats.PendingCount, ExhaustedCount: exhausted}, nil
}
