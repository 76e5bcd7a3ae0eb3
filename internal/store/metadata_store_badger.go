// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"
	jsonenc "github.com/goccy/go-json"

	"github.com/sevakavakians/kato-sub008/internal/kerrors"
)

// BadgerMetadataStore is the durable C5 adapter. Keys follow the
// teacher's WAL prefix-key convention (internal/wal/wal.go's
// prefixPending/prefixConfirmed style), generalized to KATO's four
// logical sub-spaces:
//
//	freq:<kb_id>:<symbol>      -> big-endian int64 frequency
//	pmf:<kb_id>:<symbol>       -> big-endian int64 pmf count
//	emotives:<kb_id>:<pattern> -> JSON array of emotives maps
//	metadata:<kb_id>:<pattern> -> JSON array of metadata maps
type BadgerMetadataStore struct {
	db *badger.DB
}

// OpenBadgerMetadataStore opens (creating if absent) the Badger
// database at dir.
func OpenBadgerMetadataStore(dir string) (*BadgerMetadataStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "open metadata store", err)
	}
	return &BadgerMetadataStore{db: db}, nil
}

func (s *BadgerMetadataStore) Close() error {
	return s.db.Close()
}

func freqKey(kbID, symbol string) []byte    { return []byte("freq:" + kbID + ":" + symbol) }
func pmfKey(kbID, symbol string) []byte     { return []byte("pmf:" + kbID + ":" + symbol) }
func emotivesKey(kbID, name string) []byte  { return []byte("emotives:" + kbID + ":" + name) }
func metadataKey(kbID, name string) []byte  { return []byte("metadata:" + kbID + ":" + name) }

func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (s *BadgerMetadataStore) incrementCounter(ctx context.Context, key []byte, delta int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var current int64
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = 0
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				current = decodeInt64(v)
				return nil
			}); err != nil {
				return err
			}
		}
		return txn.Set(key, encodeInt64(current+delta))
	})
}

func (s *BadgerMetadataStore) IncrementSymbolFrequency(ctx context.Context, kbID string, symbols []string) error {
	for _, sym := range symbols {
		if err := s.incrementCounter(ctx, freqKey(kbID, sym), 1); err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "increment symbol frequency", err)
		}
	}
	return nil
}

func (s *BadgerMetadataStore) IncrementSymbolPMF(ctx context.Context, kbID string, symbols []string) error {
	for _, sym := range symbols {
		if err := s.incrementCounter(ctx, pmfKey(kbID, sym), 1); err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "increment symbol pmf", err)
		}
	}
	return nil
}

func (s *BadgerMetadataStore) GetSymbolStats(ctx context.Context, kbID, symbol string) (SymbolStats, error) {
	stats := SymbolStats{Symbol: symbol}
	err := s.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(freqKey(kbID, symbol)); err == nil {
			if err := item.Value(func(v []byte) error { stats.Frequency = decodeInt64(v); return nil }); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if item, err := txn.Get(pmfKey(kbID, symbol)); err == nil {
			if err := item.Value(func(v []byte) error { stats.PMF = decodeInt64(v); return nil }); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return SymbolStats{}, kerrors.Wrap(kerrors.KindStorageUnavailable, "read symbol stats", err)
	}
	return stats, nil
}

func (s *BadgerMetadataStore) TotalFrequency(ctx context.Context, kbID string) (int64, error) {
	var total int64
	prefix := []byte("freq:" + kbID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(v []byte) error { total += decodeInt64(v); return nil }); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, kerrors.Wrap(kerrors.KindStorageUnavailable, "sum symbol frequencies", err)
	}
	return total, nil
}

func (s *BadgerMetadataStore) appendJSON(key []byte, entry any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var existing []jsonenc.RawMessage
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			existing = nil
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error { return jsonenc.Unmarshal(v, &existing) }); err != nil {
				return err
			}
		}
		encoded, err := jsonenc.Marshal(entry)
		if err != nil {
			return err
		}
		existing = append(existing, encoded)
		out, err := jsonenc.Marshal(existing)
		if err != nil {
			return err
		}
		return txn.Set(key, out)
	})
}

func (s *BadgerMetadataStore) AppendEmotives(ctx context.Context, kbID, patternName string, emotives map[string]float64) error {
	if err := s.appendJSON(emotivesKey(kbID, patternName), emotives); err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "append emotives", err)
	}
	return nil
}

func (s *BadgerMetadataStore) AppendMetadata(ctx context.Context, kbID, patternName string, metadata map[string]any) error {
	if err := s.appendJSON(metadataKey(kbID, patternName), metadata); err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "append metadata", err)
	}
	return nil
}

func (s *BadgerMetadataStore) GetEmotives(ctx context.Context, kbID, patternName string) ([]map[string]float64, error) {
	var out []map[string]float64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(emotivesKey(kbID, patternName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return jsonenc.Unmarshal(v, &out) })
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "read emotives", err)
	}
	return out, nil
}

func (s *BadgerMetadataStore) GetMetadata(ctx context.Context, kbID, patternName string) ([]map[string]any, error) {
	var out []map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metadataKey(kbID, patternName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return jsonenc.Unmarshal(v, &out) })
	})
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "read metadata", err)
	}
	return out, nil
}

var _ MetadataStore = (*BadgerMetadataStore)(nil)
