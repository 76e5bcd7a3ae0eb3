// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
)

// MemoryMetadataStore is an in-process fake of C5.
type MemoryMetadataStore struct {
	mu       sync.Mutex
	freq     map[string]map[string]int64
	pmf      map[string]map[string]int64
	emotives map[string]map[string][]map[string]float64
	metadata map[string]map[string][]map[string]any
}

// NewMemoryMetadataStore builds an empty fake metadata store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		freq:     make(map[string]map[string]int64),
		pmf:      make(map[string]map[string]int64),
		emotives: make(map[string]map[string][]map[string]float64),
		metadata: make(map[string]map[string][]map[string]any),
	}
}

func (s *MemoryMetadataStore) Close() error { return nil }

func (s *MemoryMetadataStore) IncrementSymbolFrequency(ctx context.Context, kbID string, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKB, ok := s.freq[kbID]
	if !ok {
		byKB = make(map[string]int64)
		s.freq[kbID] = byKB
	}
	for _, sym := range symbols {
		byKB[sym]++
	}
	return nil
}

func (s *MemoryMetadataStore) IncrementSymbolPMF(ctx context.Context, kbID string, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKB, ok := s.pmf[kbID]
	if !ok {
		byKB = make(map[string]int64)
		s.pmf[kbID] = byKB
	}
	for _, sym := range symbols {
		byKB[sym]++
	}
	return nil
}

func (s *MemoryMetadataStore) GetSymbolStats(ctx context.Context, kbID, symbol string) (SymbolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SymbolStats{
		Symbol:    symbol,
		Frequency: s.freq[kbID][symbol],
		PMF:       s.pmf[kbID][symbol],
	}, nil
}

func (s *MemoryMetadataStore) TotalFrequency(ctx context.Context, kbID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, v := range s.freq[kbID] {
		total += v
	}
	return total, nil
}

func (s *MemoryMetadataStore) AppendEmotives(ctx context.Context, kbID, patternName string, emotives map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKB, ok := s.emotives[kbID]
	if !ok {
		byKB = make(map[string][]map[string]float64)
		s.emotives[kbID] = byKB
	}
	byKB[patternName] = append(byKB[patternName], emotives)
	return nil
}

func (s *MemoryMetadataStore) GetEmotives(ctx context.Context, kbID, patternName string) ([]map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]float64(nil), s.emotives[kbID][patternName]...), nil
}

func (s *MemoryMetadataStore) AppendMetadata(ctx context.Context, kbID, patternName string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKB, ok := s.metadata[kbID]
	if !ok {
		byKB = make(map[string][]map[string]any)
		s.metadata[kbID] = byKB
	}
	byKB[patternName] = append(byKB[patternName], metadata)
	return nil
}

func (s *MemoryMetadataStore) GetMetadata(ctx context.Context, kbID, patternName string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.metadata[kbID][patternName]...), nil
}

var _ MetadataStore = (*MemoryMetadataStore)(nil)
