// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pattern holds the core data-model types of the specification:
// events, short-term memory, patterns, and their invariants. It has no
// dependency on any store or transport package.
package pattern

import "sort"

// Event is an ordered-in-sequence but unordered-internally group of
// symbols observed at one tick. Symbols are opaque tokens; duplicates
// within an event are preserved.
type Event []string

// Canonical returns a new Event with symbols sorted lexicographically.
// Sorting is stable so duplicate symbols keep their relative source
// order, matching §3's "sorted list of its symbols (lexicographic,
// stable, duplicates preserved as per source)".
func (e Event) Canonical() Event {
	out := make(Event, len(e))
	copy(out, e)
	sort.SliceStable(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := make(Event, len(e))
	copy(out, e)
	return out
}

// STM is the ordered sequence of events for one session: short-term
// memory. Appended on observe, cleared on learn, snapshot on predict.
type STM []Event

// Flatten concatenates all events in order into a single symbol
// sequence, used for length accounting and character-mode matching.
func (s STM) Flatten() []string {
	n := 0
	for _, ev := range s {
		n += len(ev)
	}
	out := make([]string, 0, n)
	for _, ev := range s {
		out = append(out, ev...)
	}
	return out
}

// Clone returns a deep copy of the STM.
func (s STM) Clone() STM {
	out := make(STM, len(s))
	for i, ev := range s {
		out[i] = ev.Clone()
	}
	return out
}

// Canonical returns a new STM with each event canonicalized
// internally. Event order across the STM is preserved — only
// within-event symbol order changes. This is the pattern_data shape
// used for identity hashing (§3, §4.1).
func (s STM) Canonical() STM {
	out := make(STM, len(s))
	for i, ev := range s {
		out[i] = ev.Canonical()
	}
	return out
}

// Length is the sum of |event| over all events, i.e. the flattened
// symbol count (§3: "length = sum(len(ev) for ev in pattern_data)").
func (s STM) Length() int {
	n := 0
	for _, ev := range s {
		n += len(ev)
	}
	return n
}

// TokenSet returns the deduplicated flat set of symbols across all
// events.
func (s STM) TokenSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, ev := range s {
		for _, sym := range ev {
			set[sym] = struct{}{}
		}
	}
	return set
}

// Pattern is a learned, content-addressed reusable unit: a canonical
// sequence of events plus the bookkeeping accumulated across learn
// occurrences (§3).
type Pattern struct {
	// Name is the identity: "PTRN|" + lowercase_hex(sha1(serialize(canonical))).
	// Immutable once assigned.
	Name string

	// KBID is the partition namespace this pattern belongs to. Two
	// different KBID partitions never share patterns, statistics, or
	// sessions.
	KBID string

	// Data is the canonical pattern_data: events in original observed
	// order, each event sorted internally.
	Data STM

	// Length is sum(len(ev) for ev in Data), flattened.
	Length int

	// TokenSet is the deduplicated flat set of symbols in Data.
	TokenSet []string

	// MinHashSig is the fixed-width array of 64-bit minima (C2).
	MinHashSig []uint64

	// LSHBands is the fixed number of concatenated-row hashes (C2).
	LSHBands []uint64

	// Frequency is the learn-count, >= 1.
	Frequency int64

	// Emotives is one name->float map per learn occurrence;
	// len(Emotives) == Frequency.
	Emotives []map[string]float64

	// Metadata is one opaque map per learn occurrence, parallel to
	// Emotives; len(Metadata) == Frequency.
	Metadata []map[string]any
}
