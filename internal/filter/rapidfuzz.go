// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// RapidFuzzScorer scores two flattened symbol sequences on a 0-100
// scale. LevenshteinScorer below is the only implementation in this
// repository; no scorer backed by DuckDB's rapidfuzz extension exists.
type RapidFuzzScorer interface {
	Score(ctx context.Context, s, p []string) (float64, error)
}

// LevenshteinScorer computes a rapidfuzz-style ratio from Levenshtein
// edit distance: 100*(1 - distance/maxLen), applied over the joined
// symbol sequence. RapidFuzzFilter uses it when its Scorer is nil.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(ctx context.Context, s, p []string) (float64, error) {
	a := strings.Join(s, "\x1f")
	b := strings.Join(p, "\x1f")
	if len(a) == 0 && len(b) == 0 {
		return 100, nil
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100, nil
	}
	dist := levenshtein.ComputeDistance(a, b)
	ratio := 100 * (1 - float64(dist)/float64(maxLen))
	if ratio < 0 {
		ratio = 0
	}
	return ratio, nil
}

// RapidFuzzFilter keeps candidates whose fuzzy score against the STM's
// flattened symbols meets RapidFuzzMinScore. It is typically the last,
// most expensive stage in the pipeline, run only over the already
// narrowed candidate set from prior stages, per §4.3's ordering note
// that cheaper filters should run first.
type RapidFuzzFilter struct {
	Scorer RapidFuzzScorer
}

func (f *RapidFuzzFilter) Name() pattern.FilterName { return pattern.FilterRapidFuzz }

func (f *RapidFuzzFilter) Apply(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig, in []Candidate) ([]Candidate, error) {
	candidates := in
	if candidates == nil {
		all, err := scanAll(ctx, src, stm.KBID)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	scorer := f.Scorer
	if scorer == nil {
		scorer = LevenshteinScorer{}
	}

	var out []Candidate
	for _, c := range candidates {
		score, err := scorer.Score(ctx, stm.FlatSymbols, c.FlatSymbols)
		if err != nil {
			return nil, err
		}
		if score >= cfg.RapidFuzzMinScore {
			out = append(out, c)
		}
	}
	return out, nil
}
