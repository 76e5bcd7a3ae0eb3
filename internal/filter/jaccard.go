// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"context"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// JaccardFilter keeps candidates whose token-set Jaccard similarity
// against the STM's token set meets JaccardMinSimilarity. The
// set-intersection-over-union computation is grounded on the tag-set
// overlap scoring in the teacher's content-based recommender
// (internal/recommend/algorithms/content.go), generalized here from
// tag sets to pattern token sets.
type JaccardFilter struct{}

func (f *JaccardFilter) Name() pattern.FilterName { return pattern.FilterJaccard }

func (f *JaccardFilter) Apply(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig, in []Candidate) ([]Candidate, error) {
	candidates := in
	if candidates == nil {
		all, err := scanAll(ctx, src, stm.KBID)
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	var out []Candidate
	for _, c := range candidates {
		if jaccard(stm.TokenSet, c.TokenSet) >= cfg.JaccardMinSimilarity {
			out = append(out, c)
		}
	}
	return out, nil
}

// jaccard computes |A∩B| / |A∪B| between a set and a slice representing
// a set (candidate token sets are stored deduplicated at write time).
func jaccard(a map[string]struct{}, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	bSet := make(map[string]struct{}, len(b))
	for _, tok := range b {
		bSet[tok] = struct{}{}
	}

	intersection := 0
	for tok := range a {
		if _, ok := bSet[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(bSet) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
