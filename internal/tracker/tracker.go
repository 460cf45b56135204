// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package tracker implements the edge-side plate voting tracker (C2): it
// turns a noisy burst of per-frame OCR candidates into a single committed
// plate identity per sighting. One Tracker instance belongs to exactly one
// camera worker — per §5's resource policy the tracker is never shared
// across cameras.
//
// Grounded on the reference implementation's PlateTracker/PlateVotes
// classes: bbox-quantized vote buckets, early-stop on exact majority,
// fallback consensus via fuzzy grouping, and post-commit suppression to
// avoid re-forwarding the same plate every frame.
package tracker

import (
	"sync"
	"time"

	"github.com/tomtom215/parkfabric/internal/plate"
)

// Config holds the tunable tracker parameters, all with defaults matching
// the reference implementation.
type Config struct {
	WindowSeconds       float64
	MinVotes            int
	SimilarityThreshold float64
	DedupInterval       time.Duration
}

// DefaultConfig returns the reference parameter set.
func DefaultConfig() Config {
	return Config{
		WindowSeconds:       1.5,
		MinVotes:            2,
		SimilarityThreshold: 0.85,
		DedupInterval:       15 * time.Second,
	}
}

// Vote is one OCR observation fed into the tracker.
type Vote struct {
	CameraID string
	BBox     BBox
	Text     string
	At       time.Time
}

// BBox is a detection bounding box in pixel space.
type BBox struct {
	X, Y, W, H float64
}

// quantizeGrid is the grid size bbox coordinates are rounded to before
// forming a bucket key, so that jittering detections of the same physical
// plate land in the same bucket.
const quantizeGrid = 20.0

// Key quantizes the bbox to a 20-unit grid and renders the bucket key.
func (b BBox) Key() string {
	qx := quantize(b.X)
	qy := quantize(b.Y)
	qw := quantize(b.W)
	qh := quantize(b.H)
	return itoa(qx) + "," + itoa(qy) + "," + itoa(qw) + "," + itoa(qh)
}

func quantize(v float64) int {
	return int((v/quantizeGrid)+0.5) * int(quantizeGrid)
}

func itoa(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type voteRecord struct {
	raw        string
	normalized string
	at         time.Time
}

type bucket struct {
	key        string
	records    []voteRecord
	firstSeen  time.Time
	lastTouch  time.Time
	finalized  bool
	committed  Result
}

// Result is a tracker commit: the normalized plate_id and its preferred
// display form.
type Result struct {
	PlateID   string
	PlateView string
}

// Tracker aggregates OCR votes per bbox bucket for a single camera.
type Tracker struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket

	lastSavedPlate string
	lastSavedAt    time.Time
}

// New constructs a Tracker with the given configuration.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
	}
}

// Observe feeds one OCR vote into the tracker. It returns (Result, true,
// forward) when the bucket just committed or was already finalized;
// forward indicates the post-commit suppression guard allows forwarding
// this result to the central (plate changed, or enough time has passed
// since the last forwarded commit for the same camera).
func (t *Tracker) Observe(v Vote) (result Result, committed bool, forward bool) {
	normalized := plate.Normalize(v.Text)
	if normalized == "" || !plate.Validate(normalized) {
		return Result{}, false, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := v.BBox.Key()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{key: key, firstSeen: v.At}
		t.buckets[key] = b
	}
	b.lastTouch = v.At

	if b.finalized {
		return b.committed, true, t.shouldForward(b.committed)
	}

	b.records = append(b.records, voteRecord{raw: v.Text, normalized: normalized, at: v.At})
	b.records = evictOld(b.records, v.At, t.cfg.WindowSeconds)

	if res, ok := earlyStop(b.records, t.cfg.MinVotes); ok {
		b.finalized = true
		b.committed = res
		return res, true, t.shouldForward(res)
	}

	if res, ok := fallbackConsensus(b.records, t.cfg.MinVotes, t.cfg.SimilarityThreshold); ok {
		b.finalized = true
		b.committed = res
		return res, true, t.shouldForward(res)
	}

	return Result{}, false, false
}

// shouldForward implements the post-commit suppression guard: a commit is
// forwarded only if the plate differs from the last forwarded plate, or
// the dedup interval has elapsed. Must be called with t.mu held.
func (t *Tracker) shouldForward(res Result) bool {
	now := time.Now()
	if res.PlateID != t.lastSavedPlate || now.Sub(t.lastSavedAt) > t.cfg.DedupInterval {
		t.lastSavedPlate = res.PlateID
		t.lastSavedAt = now
		return true
	}
	return false
}

// GC removes buckets untouched for 2x the vote window, returning the
// number of buckets evicted.
func (t *Tracker) GC(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Duration(2*t.cfg.WindowSeconds) * time.Second
	removed := 0
	for k, b := range t.buckets {
		if now.Sub(b.lastTouch) > cutoff {
			delete(t.buckets, k)
			removed++
		}
	}
	return removed
}

// BucketCount reports the number of live buckets, for tests and metrics.
func (t *Tracker) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

func evictOld(records []voteRecord, now time.Time, windowSeconds float64) []voteRecord {
	window := time.Duration(windowSeconds * float64(time.Second))
	out := records[:0]
	for _, r := range records {
		if now.Sub(r.at) <= window {
			out = append(out, r)
		}
	}
	return out
}

// earlyStop checks whether any normalized candidate has reached minVotes
// occurrences; if so it commits immediately, picking the preferred
// display form among the votes sharing that normalized value.
func earlyStop(records []voteRecord, minVotes int) (Result, bool) {
	counts := make(map[string]int)
	views := make(map[string]map[string]int)

	for _, r := range records {
		counts[r.normalized]++
		if views[r.normalized] == nil {
			views[r.normalized] = make(map[string]int)
		}
		views[r.normalized][r.raw]++

		if counts[r.normalized] >= minVotes {
			return Result{
				PlateID:   r.normalized,
				PlateView: plate.PreferredDisplayForm(views[r.normalized]),
			}, true
		}
	}
	return Result{}, false
}

// fallbackConsensus groups votes by fuzzy similarity when no exact
// majority exists yet but the window holds at least minVotes total
// votes. The largest similarity group wins.
func fallbackConsensus(records []voteRecord, minVotes int, threshold float64) (Result, bool) {
	if len(records) < minVotes {
		return Result{}, false
	}

	type group struct {
		members []voteRecord
	}
	var groups []*group

	for _, r := range records {
		placed := false
		for _, g := range groups {
			if ratio(g.members[0].normalized, r.normalized) >= threshold {
				g.members = append(g.members, r)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{members: []voteRecord{r}})
		}
	}

	var best *group
	for _, g := range groups {
		if best == nil || len(g.members) > len(best.members) {
			best = g
		}
	}
	if best == nil || len(best.members) < minVotes {
		return Result{}, false
	}

	views := make(map[string]int)
	normalizedCounts := make(map[string]int)
	for _, m := range best.members {
		views[m.raw]++
		normalizedCounts[m.normalized]++
	}
	var winner string
	winnerCount := -1
	for n, c := range normalizedCounts {
		if c > winnerCount || (c == winnerCount && n < winner) {
			winner = n
			winnerCount = c
		}
	}

	return Result{
		PlateID:   winner,
		PlateView: plate.PreferredDisplayForm(views),
	}, true
}
