// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package pattern

import (
	"sync"
	"time"
)

// FilterName identifies one of the registered C3 filter stages.
type FilterName string

const (
	FilterLength   FilterName = "length"
	FilterJaccard  FilterName = "jaccard"
	FilterMinHash  FilterName = "minhash"
	FilterRapidFuzz FilterName = "rapidfuzz"
)

// SessionConfig is the per-session, resolved configuration of §3.
// When a SessionConfig is passed to Merge as an override, its
// zero-valued non-boolean fields leave the base value unchanged.
type SessionConfig struct {
	// KBID is the partition key.
	KBID string

	// MaxPatternLength: if >0, auto-learn when STM reaches this many
	// events. Otherwise learning is explicit.
	MaxPatternLength int

	// RecallThreshold is the minimum similarity for predictions.
	RecallThreshold float64

	// MaxPredictions is the top-K cap, 0 meaning unbounded.
	MaxPredictions int

	// FilterPipeline is the ordered list of filter stage names. Empty
	// means no pre-filtering — every pattern row in kb_id survives to
	// the similarity engine.
	FilterPipeline []FilterName

	// LengthMaxDeviation is the integer tolerance for the length filter.
	LengthMaxDeviation int

	// JaccardMinSimilarity is the jaccard filter's threshold, [0,1].
	JaccardMinSimilarity float64

	// MinHashJaccardThreshold is the minhash filter's estimated-Jaccard
	// threshold, [0,1].
	MinHashJaccardThreshold float64

	// RapidFuzzMinScore is the rapidfuzz filter's threshold, [0,100].
	RapidFuzzMinScore float64

	// UseTokenMatching selects token mode (true, default, fast) or
	// character mode (false, legacy) for the C9 similarity engine.
	UseTokenMatching bool

	// AutoExtendSession: whether observe and predict calls refresh
	// the session TTL; an explicit learn call does not refresh it.
	AutoExtendSession bool
}

// DefaultSessionConfig returns the documented defaults: empty filter
// pipeline (callers must opt in per §6), token matching on, no
// auto-learn, top-100 prediction cap.
func DefaultSessionConfig(kbID string) SessionConfig {
	return SessionConfig{
		KBID:                    kbID,
		MaxPatternLength:        0,
		RecallThreshold:         0.1,
		MaxPredictions:          100,
		FilterPipeline:          nil,
		LengthMaxDeviation:      2,
		JaccardMinSimilarity:    0.1,
		MinHashJaccardThreshold: 0.3,
		RapidFuzzMinScore:       70,
		UseTokenMatching:        true,
		AutoExtendSession:       false,
	}
}

// Merge returns a copy of c with any non-zero non-boolean field of o
// overlaid. The booleans UseTokenMatching and AutoExtendSession are
// always taken from o, so an override that leaves them false turns
// them off. A non-boolean field cannot be set to zero through Merge.
func (c SessionConfig) Merge(o SessionConfig) SessionConfig {
	out := c
	if o.KBID != "" {
		out.KBID = o.KBID
	}
	if o.MaxPatternLength != 0 {
		out.MaxPatternLength = o.MaxPatternLength
	}
	if o.RecallThreshold != 0 {
		out.RecallThreshold = o.RecallThreshold
	}
	if o.MaxPredictions != 0 {
		out.MaxPredictions = o.MaxPredictions
	}
	if o.FilterPipeline != nil {
		out.FilterPipeline = o.FilterPipeline
	}
	if o.LengthMaxDeviation != 0 {
		out.LengthMaxDeviation = o.LengthMaxDeviation
	}
	if o.JaccardMinSimilarity != 0 {
		out.JaccardMinSimilarity = o.JaccardMinSimilarity
	}
	if o.MinHashJaccardThreshold != 0 {
		out.MinHashJaccardThreshold = o.MinHashJaccardThreshold
	}
	if o.RapidFuzzMinScore != 0 {
		out.RapidFuzzMinScore = o.RapidFuzzMinScore
	}
	out.UseTokenMatching = o.UseTokenMatching
	out.AutoExtendSession = o.AutoExtendSession
	return out
}

// Session is the per-client state of §3: STM, emotives buffer,
// resolved config, and lifecycle timestamps. All write paths on a
// single session are serialized by Lock, which must be held for the
// duration of any state-mutating or state-reading operation that
// requires a consistent STM snapshot (observe, learn, predict, clear,
// config update) — see §5.
type Session struct {
	ID             string
	KBID           string
	STM            STM
	EmotivesBuffer []map[string]float64
	MetadataBuffer []map[string]any
	Config         SessionConfig
	Created        time.Time
	LastAccess     time.Time
	ExpiresAt      time.Time

	// Lock serializes all operations on this session. It lives on the
	// record itself, not in a global map, per §9's design note.
	Lock sync.Mutex

	// MaxSTMSize bounds STM length; oldest events are evicted beyond
	// this bound. 0 means unbounded.
	MaxSTMSize int
}

// AppendEvent appends ev to the STM, evicting the oldest event if the
// bound is exceeded.
func (s *Session) AppendEvent(ev Event) {
	s.STM = append(s.STM, ev)
	if s.MaxSTMSize > 0 && len(s.STM) > s.MaxSTMSize {
		s.STM = s.STM[len(s.STM)-s.MaxSTMSize:]
	}
}

// Clear empties the STM and emotives/metadata buffers, as learn and
// clear_stm both require.
func (s *Session) Clear() {
	s.STM = nil
	s.EmotivesBuffer = nil
	s.MetadataBuffer = nil
}
