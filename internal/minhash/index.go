// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package minhash

import "context"

// Index is the C2 contract: a mapping (kb_id, band_index, band_hash)
// -> set of pattern names. Index updates on learn are additive;
// deletion is out of scope per spec §4.2.
type Index interface {
	// Add indexes name under every band bucket derived from sig.
	Add(ctx context.Context, kbID, name string, sig Signature, p Params) error

	// Query returns the deduplicated union of pattern names sharing
	// any band bucket with sig.
	Query(ctx context.Context, kbID string, sig Signature, p Params) ([]string, error)

	// Close releases any resources held by the index.
	Close() error
}

// MemoryIndex is an in-process fake satisfying Index, for tests and
// for deployments with no durability requirement, per §9's "a fake
// in-process adapter SHOULD exist for tests and MUST satisfy the same
// contracts".
type MemoryIndex struct {
	// buckets[kbID][bandIdx][bandHash] -> set of names
	buckets map[string]map[int]map[uint64]map[string]struct{}
}

// NewMemoryIndex creates an empty in-memory LSH index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{buckets: make(map[string]map[int]map[uint64]map[string]struct{})}
}

func (m *MemoryIndex) Add(_ context.Context, kbID, name string, sig Signature, p Params) error {
	bands := BandHashes(sig, p)
	if bands == nil {
		return nil
	}
	kb, ok := m.buckets[kbID]
	if !ok {
		kb = make(map[int]map[uint64]map[string]struct{})
		m.buckets[kbID] = kb
	}
	for i, h := range bands {
		bucket, ok := kb[i]
		if !ok {
			bucket = make(map[uint64]map[string]struct{})
			kb[i] = bucket
		}
		names, ok := bucket[h]
		if !ok {
			names = make(map[string]struct{})
			bucket[h] = names
		}
		names[name] = struct{}{}
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, kbID string, sig Signature, p Params) ([]string, error) {
	bands := BandHashes(sig, p)
	if bands == nil {
		return nil, nil
	}
	kb, ok := m.buckets[kbID]
	if !ok {
		return nil, nil
	}
	union := make(map[string]struct{})
	for i, h := range bands {
		bucket, ok := kb[i]
		if !ok {
			continue
		}
		for name := range bucket[h] {
			union[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(union))
	for name := range union {
		out = append(out, name)
	}
	return out, nil
}

func (m *MemoryIndex) Close() error { return nil }
