// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// fakeSource is an in-memory filter.Source for pipeline tests.
type fakeSource struct {
	rows []filter.Candidate
}

func (f *fakeSource) Scan(ctx context.Context, kbID string) (<-chan filter.Candidate, <-chan error) {
	ch := make(chan filter.Candidate, len(f.rows))
	errCh := make(chan error, 1)
	for _, r := range f.rows {
		if r.KBID == kbID {
			ch <- r
		}
	}
	close(ch)
	errCh <- nil
	return ch, errCh
}

func (f *fakeSource) ScanByNames(ctx context.Context, kbID string, names []string) ([]filter.Candidate, error) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []filter.Candidate
	for _, r := range f.rows {
		if r.KBID != kbID {
			continue
		}
		if _, ok := want[r.Name]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ScanLengthRange(ctx context.Context, kbID string, lo, hi int) (<-chan filter.Candidate, <-chan error) {
	ch := make(chan filter.Candidate, len(f.rows))
	errCh := make(chan error, 1)
	for _, r := range f.rows {
		if r.KBID == kbID && r.Length >= lo && r.Length <= hi {
			ch <- r
		}
	}
	close(ch)
	errCh <- nil
	return ch, errCh
}

func mkCandidate(name string, tokens []string) filter.Candidate {
	p := minhash.DefaultParams()
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return filter.Candidate{
		Name:        name,
		KBID:        "kb1",
		Length:      len(tokens),
		TokenSet:    minhash.SortedTokens(set),
		MinHash:     minhash.Compute(tokens, p),
		FlatSymbols: tokens,
	}
}

func TestPipeline_EmptyPipelineYieldsEverything(t *testing.T) {
	src := &fakeSource{rows: []filter.Candidate{
		mkCandidate("p1", []string{"a", "b"}),
		mkCandidate("p2", []string{"x", "y", "z"}),
	}}
	reg := filter.NewRegistry(nil, filter.LevenshteinScorer{})
	p := filter.NewPipeline(reg)

	stm := filter.STMView{KBID: "kb1", FlatSymbols: []string{"a", "b"}, TokenSet: map[string]struct{}{"a": {}, "b": {}}, MinHashSig: minhash.Compute([]string{"a", "b"}, minhash.DefaultParams())}
	cfg := pattern.DefaultSessionConfig("kb1")

	out, metrics, err := p.Run(context.Background(), src, stm, cfg)
	require.NoError(t, err)
	require.Empty(t, metrics)
	require.Len(t, out, 2)
}

func TestPipeline_LengthFilterNarrows(t *testing.T) {
	src := &fakeSource{rows: []filter.Candidate{
		mkCandidate("close", []string{"a", "b"}),
		mkCandidate("far", []string{"a", "b", "c", "d", "e", "f", "g", "h"}),
	}}
	reg := filter.NewRegistry(nil, filter.LevenshteinScorer{})
	p := filter.NewPipeline(reg)

	stm := filter.STMView{KBID: "kb1", FlatSymbols: []string{"a", "b"}, TokenSet: map[string]struct{}{"a": {}, "b": {}}}
	cfg := pattern.DefaultSessionConfig("kb1")
	cfg.FilterPipeline = []pattern.FilterName{pattern.FilterLength}
	cfg.LengthMaxDeviation = 1

	out, metrics, err := p.Run(context.Background(), src, stm, cfg)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Len(t, out, 1)
	require.Equal(t, "close", out[0].Name)
}

func TestPipeline_UnknownFilterNameErrors(t *testing.T) {
	src := &fakeSource{}
	reg := filter.NewRegistry(nil, filter.LevenshteinScorer{})
	p := filter.NewPipeline(reg)

	stm := filter.STMView{KBID: "kb1"}
	cfg := pattern.DefaultSessionConfig("kb1")
	cfg.FilterPipeline = []pattern.FilterName{"bogus"}

	_, _, err := p.Run(context.Background(), src, stm, cfg)
	require.Error(t, err)
}

func TestPipeline_ChainsJaccardThenRapidFuzz(t *testing.T) {
	src := &fakeSource{rows: []filter.Candidate{
		mkCandidate("similar", []string{"a", "b", "c"}),
		mkCandidate("dissimilar", []string{"x", "y", "z"}),
	}}
	reg := filter.NewRegistry(nil, filter.LevenshteinScorer{})
	p := filter.NewPipeline(reg)

	stm := filter.STMView{
		KBID:        "kb1",
		FlatSymbols: []string{"a", "b", "c"},
		TokenSet:    map[string]struct{}{"a": {}, "b": {}, "c": {}},
	}
	cfg := pattern.DefaultSessionConfig("kb1")
	cfg.FilterPipeline = []pattern.FilterName{pattern.FilterJaccard, pattern.FilterRapidFuzz}
	cfg.JaccardMinSimilarity = 0.5
	cfg.RapidFuzzMinScore = 50

	out, metrics, err := p.Run(context.Background(), src, stm, cfg)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	require.Len(t, out, 1)
	require.Equal(t, "similar", out[0].Name)
}

// TestPipeline_MinHashFilterEnforcesBucketMembershipWhenNotFirst is a
// regression test: the minhash filter must require LSH bucket
// collision AND Jaccard threshold regardless of pipeline position, not
// just when it runs first. "outside-index" matches STM's token set
// exactly (Jaccard 1.0) but was never added to the LSH index, so it
// must still be rejected once the length filter has already passed it
// through to minhash.
func TestPipeline_MinHashFilterEnforcesBucketMembershipWhenNotFirst(t *testing.T) {
	stmTokens := []string{"a", "b", "c"}
	src := &fakeSource{rows: []filter.Candidate{
		mkCandidate("in-index", stmTokens),
		mkCandidate("outside-index", stmTokens),
	}}

	params := minhash.DefaultParams()
	idx := minhash.NewMemoryIndex()
	require.NoError(t, idx.Add(context.Background(), "kb1", "in-index", minhash.Compute(stmTokens, params), params))

	reg := filter.NewRegistry(idx, filter.LevenshteinScorer{})
	p := filter.NewPipeline(reg)

	stm := filter.STMView{
		KBID:        "kb1",
		FlatSymbols: stmTokens,
		TokenSet:    map[string]struct{}{"a": {}, "b": {}, "c": {}},
		MinHashSig:  minhash.Compute(stmTokens, params),
	}
	cfg := pattern.DefaultSessionConfig("kb1")
	cfg.FilterPipeline = []pattern.FilterName{pattern.FilterLength, pattern.FilterMinHash}
	cfg.MinHashJaccardThreshold = 0.5

	out, metrics, err := p.Run(context.Background(), src, stm, cfg)
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	require.Len(t, out, 1)
	require.Equal(t, "in-index", out[0].Name)
}

func TestRegistry_ValidateNamesRejectsUnknown(t *testing.T) {
	reg := filter.NewRegistry(nil, filter.LevenshteinScorer{})
	require.NoError(t, reg.ValidateNames([]pattern.FilterName{pattern.FilterLength, pattern.FilterJaccard}))
	require.Error(t, reg.ValidateNames([]pattern.FilterName{"nope"}))
}
