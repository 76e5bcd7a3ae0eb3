// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "context"

// SymbolStats is the per-symbol, per-kb_id aggregate C5 maintains:
// frequency (how many learns, including frequency-only bumps, had a
// pattern containing the symbol, counted once per learn) and pmf (the
// count of new-pattern creations containing the symbol, incremented
// only when a pattern is first learned, never on a frequency-only
// bump) — see §4.6's entropy/potential inputs.
type SymbolStats struct {
	Symbol    string
	Frequency int64
	PMF       int64
}

// MetadataStore is C5: per-symbol statistics and per-pattern
// emotives/metadata, key-value by nature and partitioned by kb_id.
type MetadataStore interface {
	// IncrementSymbolFrequency bumps Frequency for every symbol in a
	// pattern on learn — both the newly-created and the
	// frequency-only-bump branches increment freq, per §4.5/§4.11.
	IncrementSymbolFrequency(ctx context.Context, kbID string, symbols []string) error

	// IncrementSymbolPMF bumps PMF for every symbol in a pattern that
	// was newly created by UpsertOrIncrement (created == true); never
	// called on a frequency-only bump, per §4.5.
	IncrementSymbolPMF(ctx context.Context, kbID string, symbols []string) error

	// GetSymbolStats fetches the current stats for a symbol, returning
	// a zero-valued SymbolStats (not an error) when never observed.
	GetSymbolStats(ctx context.Context, kbID, symbol string) (SymbolStats, error)

	// TotalFrequency returns the sum of all symbol frequencies in
	// kb_id, the denominator for entropy/pmf-normalization.
	TotalFrequency(ctx context.Context, kbID string) (int64, error)

	// AppendEmotives records one observation's emotives for a pattern,
	// accumulated across every learn of the same canonical pattern per
	// §4.2's "Frequency and emotives both accumulate" invariant.
	AppendEmotives(ctx context.Context, kbID, patternName string, emotives map[string]float64) error

	// GetEmotives returns every emotives entry recorded for a pattern.
	GetEmotives(ctx context.Context, kbID, patternName string) ([]map[string]float64, error)

	// AppendMetadata records one observation's metadata for a pattern.
	AppendMetadata(ctx context.Context, kbID, patternName string, metadata map[string]any) error

	// GetMetadata returns every metadata entry recorded for a pattern.
	GetMetadata(ctx context.Context, kbID, patternName string) ([]map[string]any, error)

	Close() error
}
