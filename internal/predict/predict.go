// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package predict implements C10: assembling ranked Prediction values
// from surviving candidates and their C9 match results, per spec
// §4.10. Ranking and scoring shape is grounded on the teacher's
// deterministic re-ranking stage (internal/recommend/reranking/mmr.go,
// internal/recommend/reranking/calibration.go) and the final
// deterministic sort in internal/recommend/engine.go.
package predict

import (
	"context"
	"math"
	"sort"

	"github.com/sevakavakians/kato-sub008/internal/cache"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
	"github.com/sevakavakians/kato-sub008/internal/similarity"
	"github.com/sevakavakians/kato-sub008/internal/store"
)

// Prediction is one ranked candidate returned from a predict call.
type Prediction struct {
	Name       string
	Pattern    pattern.STM
	Frequency  int64
	Similarity float64
	Matches    []string
	Missing    []string
	Extras     []string
	Past       pattern.STM
	Present    pattern.STM
	Future     pattern.STM
	Emotives   map[string]float64
	Entropy    float64
	Potential  float64
	Confidence float64
}

// SymbolStatsSource is the subset of the metadata store C10 needs.
type SymbolStatsSource interface {
	GetSymbolStats(ctx context.Context, kbID, symbol string) (store.SymbolStats, error)
	TotalFrequency(ctx context.Context, kbID string) (int64, error)
	GetEmotives(ctx context.Context, kbID, patternName string) ([]map[string]float64, error)
}

// Assembler builds Prediction values from similarity results and ranks
// them per §4.10. RowCache optionally avoids repeat full-row fetches
// for the same pattern name within or across predict calls, wired to
// the teacher's LRU-with-TTL cache (internal/cache/lru.go), generalized
// from its original duplicate-detection role to a small positive cache
// keyed by pattern name.
type Assembler struct {
	Stats    SymbolStatsSource
	RowCache *cache.LRUCache[store.PatternRow]
}

// GetRow fetches a pattern row by name, serving from RowCache when
// present and falling through to ps on a cache miss.
func (a *Assembler) GetRow(ctx context.Context, ps store.PatternStore, kbID, name string) (store.PatternRow, error) {
	if a.RowCache != nil {
		if row, ok := a.RowCache.Get(kbID + "|" + name); ok {
			return row, nil
		}
	}
	row, err := ps.GetOne(ctx, kbID, name)
	if err != nil {
		return store.PatternRow{}, err
	}
	if a.RowCache != nil {
		a.RowCache.Add(kbID+"|"+name, row)
	}
	return row, nil
}

// Assemble computes one Prediction from a matched candidate row and
// its C9 result, scoped to kbID.
func (a *Assembler) Assemble(ctx context.Context, kbID string, row store.PatternRow, res similarity.Result) (Prediction, error) {
	entropy, err := a.entropy(ctx, kbID, res.Present)
	if err != nil {
		return Prediction{}, err
	}

	missingRatio := missingRatio(res, row.Data.Length())
	potential := res.Similarity * entropy * (1 + missingRatio)
	confidence := res.Similarity * (1 - 1/(1+math.Log(1+float64(row.Frequency))))

	emotives, err := a.meanEmotives(ctx, kbID, row.Name)
	if err != nil {
		return Prediction{}, err
	}

	return Prediction{
		Name:       row.Name,
		Pattern:    row.Data,
		Frequency:  row.Frequency,
		Similarity: res.Similarity,
		Matches:    res.Matches,
		Missing:    res.Missing,
		Extras:     res.Extras,
		Past:       res.Past,
		Present:    res.Present,
		Future:     res.Future,
		Emotives:   emotives,
		Entropy:    entropy,
		Potential:  potential,
		Confidence: confidence,
	}, nil
}

// entropy computes H = -Σ p(s) log2 p(s) over the present region's
// symbols, using C5's symbol frequency statistics scoped to kbID, per
// §4.10.
func (a *Assembler) entropy(ctx context.Context, kbID string, present pattern.STM) (float64, error) {
	symbols := present.Flatten()
	if len(symbols) == 0 {
		return 0, nil
	}

	total, err := a.Stats.TotalFrequency(ctx, kbID)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	seen := make(map[string]bool, len(symbols))
	var h float64
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		stats, err := a.Stats.GetSymbolStats(ctx, kbID, sym)
		if err != nil {
			return 0, err
		}
		if stats.Frequency == 0 {
			continue
		}
		p := float64(stats.Frequency) / float64(total)
		h -= p * math.Log2(p)
	}
	return h, nil
}

// missingRatio is |missing ∪ future flattened| / max(1, |P| flattened),
// the information-carried-by-unobserved-content term of the potential
// formula fixed in the project's Open Question decision.
func missingRatio(res similarity.Result, patternLen int) float64 {
	if patternLen == 0 {
		return 0
	}
	futureLen := res.Future.Length()
	return float64(len(res.Missing)+futureLen) / float64(patternLen)
}

func (a *Assembler) meanEmotives(ctx context.Context, kbID, patternName string) (map[string]float64, error) {
	occurrences, err := a.Stats.GetEmotives(ctx, kbID, patternName)
	if err != nil {
		return nil, err
	}
	if len(occurrences) == 0 {
		return nil, nil
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, occ := range occurrences {
		for k, v := range occ {
			sums[k] += v
			counts[k]++
		}
	}
	means := make(map[string]float64, len(sums))
	for k, sum := range sums {
		means[k] = sum / float64(counts[k])
	}
	return means, nil
}

// Rank sorts predictions by potential desc, then similarity desc, then
// frequency desc, then name asc, applying maxPredictions as a cap
// (0 meaning unbounded). Sort is over the candidates' own fields only,
// so the result is independent of input iteration order.
func Rank(preds []Prediction, maxPredictions int) []Prediction {
	sort.SliceStable(preds, func(i, j int) bool {
		a, b := preds[i], preds[j]
		if a.Potential != b.Potential {
			return a.Potential > b.Potential
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Name < b.Name
	})
	if maxPredictions > 0 && len(preds) > maxPredictions {
		preds = preds[:maxPredictions]
	}
	return preds
}
