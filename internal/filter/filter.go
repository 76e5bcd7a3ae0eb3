// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filter implements C3: the ordered, configurable chain of
// candidate reducers described in spec §4.3. Filters are modeled as a
// capability interface with a fixed registry keyed by name, per §9's
// design note ("Model filters as a sealed variant set or as a
// capability trait/interface... with a fixed registry keyed by
// name"), grounded on the teacher's Algorithm/registry shape in
// internal/recommend/engine.go.
package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/logging"
	"github.com/sevakavakians/kato-sub008/internal/minhash"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// Candidate is the minimal projection of a pattern row a filter needs
// to decide pass/fail, without pulling the full emotives/metadata
// payload off the hot scan path.
type Candidate struct {
	Name     string
	KBID     string
	Length   int
	TokenSet []string
	MinHash  []uint64
	// FlatSymbols is the flattened pattern_data, needed by rapidfuzz.
	FlatSymbols []string
}

// STMView is the information a filter needs about the query STM.
type STMView struct {
	KBID        string
	FlatSymbols []string
	TokenSet    map[string]struct{}
	MinHashSig  []uint64
}

// Source supplies candidates to the pipeline. The pattern-store
// adapter (C4) implements this, pushing predicates down where a stage
// can provide one (length range, minhash bucket membership) rather
// than streaming every row in kb_id, per §4.3's pushdown requirement.
type Source interface {
	// Scan streams every candidate in kbID with no predicate applied.
	// Used when the pipeline is empty or a stage cannot push down.
	Scan(ctx context.Context, kbID string) (<-chan Candidate, <-chan error)

	// ScanByNames fetches exactly the named candidates, used after a
	// stage (e.g. minhash) has already narrowed the set via its own
	// index rather than a store-side predicate.
	ScanByNames(ctx context.Context, kbID string, names []string) ([]Candidate, error)

	// ScanLengthRange streams candidates whose Length is within
	// [lo,hi], pushing the length filter's predicate into the store.
	ScanLengthRange(ctx context.Context, kbID string, lo, hi int) (<-chan Candidate, <-chan error)
}

// Filter is one pipeline stage.
type Filter interface {
	// Name identifies this filter for pipeline configuration.
	Name() pattern.FilterName

	// Apply consumes candidates (already narrowed by prior stages, or
	// nil to mean "ask Source yourself via pushdown") and returns the
	// survivors. cfg carries the session's resolved thresholds.
	Apply(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig, in []Candidate) ([]Candidate, error)
}

// StageMetrics records the in/out/elapsed counters §4.3 requires be
// emitted per stage.
type StageMetrics struct {
	Stage   pattern.FilterName
	In      int
	Out     int
	Elapsed time.Duration
}

// Registry maps filter names to implementations. It is fixed at
// startup; configuration validates names against it at session
// creation (§9).
type Registry struct {
	filters map[pattern.FilterName]Filter
}

// NewRegistry builds the registry with the four built-in filters of
// §4.3. index may be nil, in which case the minhash filter degrades to
// scanning and scoring every candidate directly (correct but without
// the LSH recall speedup).
func NewRegistry(index minhash.Index, rapidFuzz RapidFuzzScorer) *Registry {
	r := &Registry{filters: make(map[pattern.FilterName]Filter)}
	r.Register(&LengthFilter{})
	r.Register(&JaccardFilter{})
	r.Register(&MinHashFilter{Index: index})
	r.Register(&RapidFuzzFilter{Scorer: rapidFuzz})
	return r
}

// Register adds or replaces a filter under its own Name().
func (r *Registry) Register(f Filter) {
	r.filters[f.Name()] = f
}

// Get looks up a filter by name.
func (r *Registry) Get(name pattern.FilterName) (Filter, bool) {
	f, ok := r.filters[name]
	return f, ok
}

// ValidateNames returns an error if any name in names is not
// registered, used by session-creation-time config validation.
func (r *Registry) ValidateNames(names []pattern.FilterName) error {
	for _, n := range names {
		if _, ok := r.filters[n]; !ok {
			return kerrors.New(kerrors.KindValidation, fmt.Sprintf("unknown filter pipeline stage %q", n))
		}
	}
	return nil
}

// Pipeline runs a configured, ordered chain of filters over a Source.
type Pipeline struct {
	Registry *Registry
}

// NewPipeline builds a pipeline bound to a registry.
func NewPipeline(reg *Registry) *Pipeline {
	return &Pipeline{Registry: reg}
}

// Run executes cfg.FilterPipeline in order against src, starting from
// every row in kbID when the pipeline is empty ("The empty pipeline
// yields every pattern row in kb_id", §4.3). Any stage error
// propagates immediately — fail-fast, no fallback to a different data
// path, per §4.3/§7.
func (p *Pipeline) Run(ctx context.Context, src Source, stm STMView, cfg pattern.SessionConfig) ([]Candidate, []StageMetrics, error) {
	if len(cfg.FilterPipeline) == 0 {
		all, err := scanAll(ctx, src, stm.KBID)
		if err != nil {
			return nil, nil, err
		}
		return all, nil, nil
	}

	var current []Candidate
	var metrics []StageMetrics
	first := true

	for _, name := range cfg.FilterPipeline {
		f, ok := p.Registry.Get(name)
		if !ok {
			return nil, metrics, kerrors.New(kerrors.KindValidation, fmt.Sprintf("unknown filter %q", name))
		}

		start := time.Now()
		inCount := len(current)
		if first {
			inCount = -1 // pushdown stage decides its own input size
		}

		out, err := f.Apply(ctx, src, stm, cfg, current)
		if err != nil {
			return nil, metrics, kerrors.Wrap(kerrors.KindStorageUnavailable, fmt.Sprintf("filter stage %q failed", name), err)
		}
		if out == nil {
			// Non-nil so the next stage sees "narrowed to nothing" rather
			// than "no prior stage, scan the source".
			out = []Candidate{}
		}

		sm := StageMetrics{Stage: name, In: inCount, Out: len(out), Elapsed: time.Since(start)}
		metrics = append(metrics, sm)
		logging.Debug().
			Str("stage", string(name)).
			Int("in", inCount).
			Int("out", len(out)).
			Dur("elapsed", sm.Elapsed).
			Msg("filter stage complete")

		current = out
		first = false
	}
	return current, metrics, nil
}

func scanAll(ctx context.Context, src Source, kbID string) ([]Candidate, error) {
	ch, errCh := src.Scan(ctx, kbID)
	var out []Candidate
	for c := range ch {
		out = append(out, c)
	}
	if err := <-errCh; err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "scan failed", err)
	}
	return out, nil
}
