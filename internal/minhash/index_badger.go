// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package minhash

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/sevakavakians/kato-sub008/internal/logging"
)

// BadgerIndex is the durable C2 adapter: buckets persist in Badger so
// the LSH index survives process restart without a full C4 rescan.
// Keys are "lsh:<kb_id>:<band>:<hash>:<name>" with an empty value; the
// key itself carries the membership (grounded on the teacher's WAL
// key-schema idiom of encoding structure into the key, see
// internal/wal/wal.go's prefixPending/prefixConfirmed).
type BadgerIndex struct {
	db *badger.DB
}

// OpenBadgerIndex opens (or creates) a Badger-backed LSH index at dir.
func OpenBadgerIndex(dir string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger lsh index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

func bucketKey(kbID string, band int, hash uint64, name string) []byte {
	key := make([]byte, 0, len(kbID)+len(name)+32)
	key = append(key, "lsh:"...)
	key = append(key, kbID...)
	key = append(key, ':')
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(band))
	key = append(key, b[:]...)
	key = append(key, ':')
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], hash)
	key = append(key, h[:]...)
	key = append(key, ':')
	key = append(key, name...)
	return key
}

func bucketPrefix(kbID string, band int, hash uint64) []byte {
	return bucketKey(kbID, band, hash, "")
}

func (b *BadgerIndex) Add(_ context.Context, kbID, name string, sig Signature, p Params) error {
	bands := BandHashes(sig, p)
	if bands == nil {
		return nil
	}
	return b.db.Update(func(txn *badger.Txn) error {
		for i, h := range bands {
			if err := txn.Set(bucketKey(kbID, i, h, name), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerIndex) Query(_ context.Context, kbID string, sig Signature, p Params) ([]string, error) {
	bands := BandHashes(sig, p)
	if bands == nil {
		return nil, nil
	}
	union := make(map[string]struct{})
	err := b.db.View(func(txn *badger.Txn) error {
		for i, h := range bands {
			prefix := bucketPrefix(kbID, i, h)
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				name := string(key[len(prefix):])
				union[name] = struct{}{}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		logging.Error().Err(err).Str("kb_id", kbID).Msg("lsh index query failed")
		return nil, fmt.Errorf("lsh query: %w", err)
	}
	out := make([]string, 0, len(union))
	for name := range union {
		out = append(out, name)
	}
	return out, nil
}

func (b *BadgerIndex) Close() error {
	return b.db.Close()
}
