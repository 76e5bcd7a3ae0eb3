// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"context"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// LengthFilter keeps candidates whose flattened symbol count is within
// LengthMaxDeviation of the STM's own flattened size, per §4.3: "passes
// iff |pattern.length - |STM_flat|| <= length_max_deviation". When it
// runs first it pushes its predicate down to the store, since the
// bound translates directly into a row range.
type LengthFilter struct{}

func (f *LengthFilter) Name() pattern.FilterName { return pattern.FilterLength }

func (f *LengthFilter) Apply(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig, in []Candidate) ([]Candidate, error) {
	target := len(stm.FlatSymbols)
	lo := target - cfg.LengthMaxDeviation
	hi := target + cfg.LengthMaxDeviation
	if lo < 0 {
		lo = 0
	}

	if in == nil {
		ch, errCh := src.ScanLengthRange(ctx, stm.KBID, lo, hi)
		var out []Candidate
		for c := range ch {
			out = append(out, c)
		}
		if err := <-errCh; err != nil {
			return nil, err
		}
		return out, nil
	}

	var out []Candidate
	for _, c := range in {
		if c.Length >= lo && c.Length <= hi {
			out = append(out, c)
		}
	}
	return out, nil
}
