// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store implements C4-C7: the storage adapters behind the
// pattern store, metadata store, vector index, and session store, plus
// in-memory fakes of each used by tests and by deployments that don't
// need durability. Schema and connection-management style is grounded
// on the teacher's internal/database package.
package store

import (
	"context"
	"strings"

	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// PatternRow is one canonical pattern's persisted form in C4.
type PatternRow struct {
	Name       string
	KBID       string
	Data       pattern.STM
	Length     int
	TokenSet   []string
	MinHashSig []uint64
	Frequency  int64
}

func (r PatternRow) toCandidate() filter.Candidate {
	return filter.Candidate{
		Name:        r.Name,
		KBID:        r.KBID,
		Length:      r.Length,
		TokenSet:    r.TokenSet,
		MinHash:     r.MinHashSig,
		FlatSymbols: r.Data.Flatten(),
	}
}

// PatternStore is C4: the append-only, content-addressed store of
// canonical patterns. UpsertOrIncrement implements the learn
// invariant of §4.2 — a second learn of the same canonical pattern
// bumps Frequency rather than inserting a duplicate row.
type PatternStore interface {
	// UpsertOrIncrement inserts row if Name is new in KBID, or
	// increments its Frequency by one and returns the post-increment
	// value. The bool return is true when a new row was inserted.
	UpsertOrIncrement(ctx context.Context, row PatternRow) (frequency int64, created bool, err error)

	// GetRows fetches the named rows, in kb_id, skipping any that
	// don't exist in KBID; used by predict's full-record read after
	// the filter pipeline has produced a name.
	GetRows(ctx context.Context, kbID string, names []string) ([]PatternRow, error)

	// GetOne fetches a single row by name, returning
	// kerrors.KindInvariantViolation when it is absent.
	GetOne(ctx context.Context, kbID, name string) (PatternRow, error)

	// Count returns the number of distinct patterns in kb_id.
	Count(ctx context.Context, kbID string) (int, error)

	filter.Source
}

// notFoundErr builds the consistent lookup-miss error used across the
// adapters below.
func notFoundErr(kbID, name string) error {
	return kerrors.New(kerrors.KindInvariantViolation, "pattern "+name+" not found in kb_id "+kbID)
}

// inPlaceholders renders n "?" placeholders joined by commas, mirroring
// the teacher's buildInClause helper in internal/database/query_builder.go.
func inPlaceholders(n int) string {
	if n == 0 {
		return ""
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
