// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"context"

	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// MinHashFilter passes a candidate iff it collides with STM's
// signature in at least one LSH band bucket AND its estimated Jaccard
// similarity meets MinHashJaccardThreshold — both conditions apply
// regardless of where this filter sits in the pipeline. When it runs
// first (in == nil), the bucket query also serves as the initial
// candidate recall so the full pattern table isn't scanned.
type MinHashFilter struct {
	Index minhash.Index
}

func (f *MinHashFilter) Name() pattern.FilterName { return pattern.FilterMinHash }

func (f *MinHashFilter) Apply(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig, in []Candidate) ([]Candidate, error) {
	params := minhash.DefaultParams()

	var bucketed map[string]struct{}
	var bucketNames []string
	if f.Index != nil {
		names, err := f.Index.Query(ctx, stm.KBID, stm.MinHashSig, params)
		if err != nil {
			return nil, err
		}
		bucketNames = names
		bucketed = make(map[string]struct{}, len(names))
		for _, n := range names {
			bucketed[n] = struct{}{}
		}
	}

	recalled := in
	if recalled == nil {
		var err error
		if f.Index != nil {
			recalled, err = src.ScanByNames(ctx, stm.KBID, bucketNames)
		} else {
			recalled, err = scanAll(ctx, src, stm.KBID)
		}
		if err != nil {
			return nil, err
		}
	}

	var out []Candidate
	for _, c := range recalled {
		if len(c.MinHash) == 0 {
			continue
		}
		if bucketed != nil {
			if _, ok := bucketed[c.Name]; !ok {
				continue
			}
		}
		if minhash.EstimateJaccard(stm.MinHashSig, c.MinHash) >= cfg.MinHashJaccardThreshold {
			out = append(out, c)
		}
	}
	return out, nil
}
