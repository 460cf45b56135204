// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Package plate normalizes, validates and renders license plate text
// recognized by edge OCR workers. It is the ground truth for what counts
// as a plate_id (the normalized dedup key) versus a plate_view (the
// display form a human would recognize), grounded on the reference
// tracker's normalization rules.
package plate

import (
	"regexp"
	"strings"
)

// minNormalizedLength is the shortest string normalize() will accept;
// anything shorter is almost certainly an OCR fragment, not a plate.
const minNormalizedLength = 6

// plateRegexes is the published small set of accepted national plate
// shapes: two digits, then one or two letters, then four to six digits;
// plus a motorcycle variant carrying an extra series digit right after
// the single letter.
var plateRegexes = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9]{2}[A-Z]{1,2}[0-9]{4,6}$`),
	regexp.MustCompile(`^[0-9]{2}[A-Z][0-9][0-9]{4,6}$`),
}

var nonAlphanumeric = regexp.MustCompile(`[^A-Z0-9]`)

// Normalize uppercases the input and strips every non-alphanumeric
// character, yielding the canonical plate_id. It returns an empty string
// when the result is shorter than minNormalizedLength, signaling "discard
// this candidate" to callers.
func Normalize(raw string) string {
	upper := strings.ToUpper(raw)
	cleaned := nonAlphanumeric.ReplaceAllString(upper, "")
	if len(cleaned) < minNormalizedLength {
		return ""
	}
	return cleaned
}

// Validate reports whether a normalized plate_id matches one of the
// accepted national plate shapes. Detections failing validation are
// discarded silently by the ingestion pipeline, never surfaced as an
// error to the originating camera.
func Validate(plateID string) bool {
	if plateID == "" {
		return false
	}
	for _, re := range plateRegexes {
		if re.MatchString(plateID) {
			return true
		}
	}
	return false
}

// DisplayForm returns the recognized text unchanged except for
// whitespace trimming, preserving any punctuation the OCR engine
// reported (dashes, dots) so the voting layer in internal/tracker can
// later prefer a separated form for the same plate_id.
func DisplayForm(raw string) string {
	return strings.TrimSpace(raw)
}

// hasDash / hasDot are used by the tracker to rank candidate display
// forms for the same normalized plate_id.
func hasDash(s string) bool { return strings.Contains(s, "-") }
func hasDot(s string) bool  { return strings.Contains(s, ".") }

// PreferredDisplayForm picks the best display form among candidates that
// all normalize to the same plate_id, preferring in order: contains both
// '-' and '.', contains '-', contains '.', else the most frequently
// voted raw string. votes maps raw display text to vote count.
func PreferredDisplayForm(votes map[string]int) string {
	var both, dashOnly, dotOnly string
	var bestRaw string
	bestCount := -1

	for raw, count := range votes {
		if count > bestCount || (count == bestCount && raw < bestRaw) {
			bestCount = count
			bestRaw = raw
		}
		if hasDash(raw) && hasDot(raw) && both == "" {
			both = raw
		} else if hasDash(raw) && dashOnly == "" {
			dashOnly = raw
		} else if hasDot(raw) && dotOnly == "" {
			dotOnly = raw
		}
	}

	switch {
	case both != "":
		return both
	case dashOnly != "":
		return dashOnly
	case dotOnly != "":
		return dotOnly
	default:
		return bestRaw
	}
}
