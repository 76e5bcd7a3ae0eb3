// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package predict_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/cache"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
	"github.com/sevakavakians/kato-sub008/internal/predict"
	"github.com/sevakavakians/kato-sub008/internal/similarity"
	"github.com/sevakavakians/kato-sub008/internal/store"
)

type fakeStats struct {
	freq     map[string]store.SymbolStats
	total    int64
	emotives map[string][]map[string]float64
}

func (f *fakeStats) GetSymbolStats(ctx context.Context, kbID, symbol string) (store.SymbolStats, error) {
	if s, ok := f.freq[symbol]; ok {
		return s, nil
	}
	return store.SymbolStats{Symbol: symbol}, nil
}

func (f *fakeStats) TotalFrequency(ctx context.Context, kbID string) (int64, error) {
	return f.total, nil
}

func (f *fakeStats) GetEmotives(ctx context.Context, kbID, patternName string) ([]map[string]float64, error) {
	return f.emotives[patternName], nil
}

type fakePatternStore struct {
	store.PatternStore
	rows    map[string]store.PatternRow
	fetched int
}

func (f *fakePatternStore) GetOne(ctx context.Context, kbID, name string) (store.PatternRow, error) {
	f.fetched++
	row, ok := f.rows[kbID+"|"+name]
	if !ok {
		return store.PatternRow{}, kerrors.New(kerrors.KindInvariantViolation, "pattern not found")
	}
	return row, nil
}

func TestAssemble_ComputesEntropyPotentialAndConfidence(t *testing.T) {
	stats := &fakeStats{
		freq: map[string]store.SymbolStats{
			"a": {Symbol: "a", Frequency: 5},
			"b": {Symbol: "b", Frequency: 5},
		},
		total: 10,
	}
	a := &predict.Assembler{Stats: stats}

	row := store.PatternRow{Name: "PTRN|x", Data: pattern.STM{{"a"}, {"b"}}, Frequency: 3}
	res := similarity.Result{
		Similarity: 0.5,
		Present:    pattern.STM{{"a"}, {"b"}},
		Matches:    []string{"a"},
		Missing:    []string{"b"},
	}

	pred, err := a.Assemble(context.Background(), "kb1", row, res)
	require.NoError(t, err)

	wantEntropy := -2 * (0.5 * math.Log2(0.5))
	require.InDelta(t, wantEntropy, pred.Entropy, 1e-9)

	wantMissingRatio := float64(1) / float64(2)
	wantPotential := res.Similarity * wantEntropy * (1 + wantMissingRatio)
	require.InDelta(t, wantPotential, pred.Potential, 1e-9)

	wantConfidence := res.Similarity * (1 - 1/(1+math.Log(1+3)))
	require.InDelta(t, wantConfidence, pred.Confidence, 1e-9)
}

func TestAssemble_ZeroTotalFrequencyYieldsZeroEntropy(t *testing.T) {
	stats := &fakeStats{total: 0}
	a := &predict.Assembler{Stats: stats}

	row := store.PatternRow{Name: "PTRN|x", Data: pattern.STM{{"a"}}, Frequency: 1}
	res := similarity.Result{Similarity: 1, Present: pattern.STM{{"a"}}}

	pred, err := a.Assemble(context.Background(), "kb1", row, res)
	require.NoError(t, err)
	require.Equal(t, 0.0, pred.Entropy)
}

func TestMissingRatio_ZeroPatternLengthIsZero(t *testing.T) {
	stats := &fakeStats{}
	a := &predict.Assembler{Stats: stats}

	row := store.PatternRow{Name: "PTRN|empty", Data: pattern.STM{}, Frequency: 1}
	res := similarity.Result{Similarity: 0}

	pred, err := a.Assemble(context.Background(), "kb1", row, res)
	require.NoError(t, err)
	require.Equal(t, 0.0, pred.Potential)
}

func TestAssemble_MeanEmotivesAveragesAcrossOccurrences(t *testing.T) {
	stats := &fakeStats{
		total: 1,
		emotives: map[string][]map[string]float64{
			"PTRN|x": {
				{"joy": 0.2, "fear": 0.8},
				{"joy": 0.6},
			},
		},
	}
	a := &predict.Assembler{Stats: stats}

	row := store.PatternRow{Name: "PTRN|x", Data: pattern.STM{{"a"}}, Frequency: 1}
	res := similarity.Result{Similarity: 1, Present: pattern.STM{{"a"}}}

	pred, err := a.Assemble(context.Background(), "kb1", row, res)
	require.NoError(t, err)
	require.InDelta(t, 0.4, pred.Emotives["joy"], 1e-9)
	require.InDelta(t, 0.8, pred.Emotives["fear"], 1e-9)
}

func TestAssemble_NoEmotivesYieldsNilMap(t *testing.T) {
	stats := &fakeStats{total: 1}
	a := &predict.Assembler{Stats: stats}

	row := store.PatternRow{Name: "PTRN|x", Data: pattern.STM{{"a"}}, Frequency: 1}
	res := similarity.Result{Similarity: 1, Present: pattern.STM{{"a"}}}

	pred, err := a.Assemble(context.Background(), "kb1", row, res)
	require.NoError(t, err)
	require.Nil(t, pred.Emotives)
}

func TestRank_OrdersByPotentialThenSimilarityThenFrequencyThenName(t *testing.T) {
	preds := []predict.Prediction{
		{Name: "b", Potential: 1, Similarity: 0.5, Frequency: 10},
		{Name: "a", Potential: 1, Similarity: 0.5, Frequency: 10},
		{Name: "c", Potential: 2, Similarity: 0.1, Frequency: 1},
		{Name: "d", Potential: 1, Similarity: 0.9, Frequency: 1},
	}

	ranked := predict.Rank(preds, 0)
	require.Equal(t, []string{"c", "d", "a", "b"}, namesOf(ranked))
}

func TestRank_CapsAtMaxPredictions(t *testing.T) {
	preds := []predict.Prediction{
		{Name: "a", Potential: 3},
		{Name: "b", Potential: 2},
		{Name: "c", Potential: 1},
	}

	ranked := predict.Rank(preds, 2)
	require.Equal(t, []string{"a", "b"}, namesOf(ranked))
}

func TestRank_ZeroMaxPredictionsIsUnbounded(t *testing.T) {
	preds := []predict.Prediction{{Name: "a", Potential: 1}, {Name: "b", Potential: 2}}
	ranked := predict.Rank(preds, 0)
	require.Len(t, ranked, 2)
}

func namesOf(preds []predict.Prediction) []string {
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = p.Name
	}
	return out
}

func TestGetRow_CacheMissFallsThroughAndPopulatesCache(t *testing.T) {
	ps := &fakePatternStore{rows: map[string]store.PatternRow{
		"kb1|PTRN|x": {Name: "PTRN|x", Frequency: 2},
	}}
	a := &predict.Assembler{RowCache: cache.NewLRUCache[store.PatternRow](10, time.Minute)}

	row, err := a.GetRow(context.Background(), ps, "kb1", "PTRN|x")
	require.NoError(t, err)
	require.Equal(t, int64(2), row.Frequency)
	require.Equal(t, 1, ps.fetched)

	row2, err := a.GetRow(context.Background(), ps, "kb1", "PTRN|x")
	require.NoError(t, err)
	require.Equal(t, int64(2), row2.Frequency)
	require.Equal(t, 1, ps.fetched, "second call should be served from cache, not refetch")
}

func TestGetRow_NoCacheAlwaysFetches(t *testing.T) {
	ps := &fakePatternStore{rows: map[string]store.PatternRow{
		"kb1|PTRN|x": {Name: "PTRN|x", Frequency: 5},
	}}
	a := &predict.Assembler{}

	_, err := a.GetRow(context.Background(), ps, "kb1", "PTRN|x")
	require.NoError(t, err)
	_, err = a.GetRow(context.Background(), ps, "kb1", "PTRN|x")
	require.NoError(t, err)
	require.Equal(t, 2, ps.fetched)
}

func TestGetRow_PropagatesNotFoundError(t *testing.T) {
	ps := &fakePatternStore{rows: map[string]store.PatternRow{}}
	a := &predict.Assembler{}

	_, err := a.GetRow(context.Background(), ps, "kb1", "PTRN|missing")
	require.Error(t, err)
}
