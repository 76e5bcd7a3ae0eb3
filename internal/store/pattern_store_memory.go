// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"

	"github.com/sevakavakians/kato-sub008/internal/filter"
)

// MemoryPatternStore is an in-process fake of C4 used by tests and by
// deployments that accept losing pattern history across restarts.
type MemoryPatternStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]*PatternRow // kbID -> name -> row
}

// NewMemoryPatternStore builds an empty fake pattern store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{rows: make(map[string]map[string]*PatternRow)}
}

func (s *MemoryPatternStore) UpsertOrIncrement(ctx context.Context, row PatternRow) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.rows[row.KBID]
	if !ok {
		byName = make(map[string]*PatternRow)
		s.rows[row.KBID] = byName
	}

	if existing, ok := byName[row.Name]; ok {
		existing.Frequency++
		return existing.Frequency, false, nil
	}

	cp := row
	cp.Frequency = 1
	byName[row.Name] = &cp
	return 1, true, nil
}

func (s *MemoryPatternStore) GetRows(ctx context.Context, kbID string, names []string) ([]PatternRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := s.rows[kbID]
	var out []PatternRow
	for _, n := range names {
		if r, ok := byName[n]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *MemoryPatternStore) GetOne(ctx context.Context, kbID, name string) (PatternRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rows[kbID][name]; ok {
		return *r, nil
	}
	return PatternRow{}, notFoundErr(kbID, name)
}

func (s *MemoryPatternStore) Count(ctx context.Context, kbID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[kbID]), nil
}

func (s *MemoryPatternStore) Scan(ctx context.Context, kbID string) (<-chan filter.Candidate, <-chan error) {
	ch := make(chan filter.Candidate)
	errCh := make(chan error, 1)

	s.mu.RLock()
	snapshot := make([]PatternRow, 0, len(s.rows[kbID]))
	for _, r := range s.rows[kbID] {
		snapshot = append(snapshot, *r)
	}
	s.mu.RUnlock()

	go func() {
		defer close(ch)
		for _, r := range snapshot {
			ch <- r.toCandidate()
		}
		errCh <- nil
	}()
	return ch, errCh
}

func (s *MemoryPatternStore) ScanByNames(ctx context.Context, kbID string, names []string) ([]filter.Candidate, error) {
	rows, err := s.GetRows(ctx, kbID, names)
	if err != nil {
		return nil, err
	}
	out := make([]filter.Candidate, len(rows))
	for i, r := range rows {
		out[i] = r.toCandidate()
	}
	return out, nil
}

func (s *MemoryPatternStore) ScanLengthRange(ctx context.Context, kbID string, lo, hi int) (<-chan filter.Candidate, <-chan error) {
	ch := make(chan filter.Candidate)
	errCh := make(chan error, 1)

	s.mu.RLock()
	var snapshot []PatternRow
	for _, r := range s.rows[kbID] {
		if r.Length >= lo && r.Length <= hi {
			snapshot = append(snapshot, *r)
		}
	}
	s.mu.RUnlock()

	go func() {
		defer close(ch)
		for _, r := range snapshot {
			ch <- r.toCandidate()
		}
		errCh <- nil
	}()
	return ch, errCh
}

var _ PatternStore = (*MemoryPatternStore)(nil)
