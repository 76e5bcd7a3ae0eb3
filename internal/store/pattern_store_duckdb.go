// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	jsonenc "github.com/goccy/go-json"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/sevakavakians/kato-sub008/internal/cache"
	"github.com/sevakavakians/kato-sub008/internal/filter"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
)

// DuckDBPatternStore is the durable C4 adapter: one append-only table
// per process, partitioned by kb_id, with the pattern name as primary
// key so a second learn of an identical pattern is a no-op insert and
// a frequency bump instead. Connection setup follows the teacher's
// internal/database.New: ensure the parent directory exists, open with
// tuned pragmas, create schema idempotently.
//
// exists is a Bloom filter guarding the hot path of UpsertOrIncrement:
// most observed events are novel patterns the first few times a
// deployment runs, so a Test() that returns false lets a brand-new
// pattern skip straight to INSERT without a round-trip SELECT,
// following the exact "Test before authoritative lookup" usage pattern
// documented on the teacher's BloomFilter (internal/cache/bloom.go).
type DuckDBPatternStore struct {
	conn   *sql.DB
	exists *cache.BloomFilter
}

// OpenDuckDBPatternStore opens (creating if absent) the DuckDB file at
// path and ensures the patterns table and its indexes exist. The
// existence filter is sized from bloomExpectedN/bloomFalsePosRate; pass
// 0/0 to fall back to the deployment-agnostic default (100k items,
// 1% false-positive rate).
func OpenDuckDBPatternStore(ctx context.Context, path string, bloomExpectedN int, bloomFalsePosRate float64) (*DuckDBPatternStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "create pattern store directory", err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&preserve_insertion_order=true", path)
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "open pattern store", err)
	}

	if bloomExpectedN <= 0 {
		bloomExpectedN = 100_000
	}
	if bloomFalsePosRate <= 0 {
		bloomFalsePosRate = 0.01
	}

	s := &DuckDBPatternStore{conn: conn, exists: cache.NewBloomFilter(bloomExpectedN, bloomFalsePosRate)}
	if err := s.createSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := s.primeBloomFilter(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// primeBloomFilter loads every existing (kb_id, name) pair into the
// existence filter on startup, since the filter itself is in-memory
// and would otherwise report false negatives for rows written in a
// prior process lifetime.
func (s *DuckDBPatternStore) primeBloomFilter(ctx context.Context) error {
	rows, err := s.conn.QueryContext(ctx, `SELECT kb_id, name FROM patterns`)
	if err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "prime pattern existence filter", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kbID, name string
		if err := rows.Scan(&kbID, &name); err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "scan existence row", err)
		}
		s.exists.Add(kbID + "|" + name)
	}
	if err := rows.Err(); err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "iterate existence rows", err)
	}
	return nil
}

func (s *DuckDBPatternStore) createSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS patterns (
	kb_id        VARCHAR NOT NULL,
	name         VARCHAR NOT NULL,
	pattern_data VARCHAR NOT NULL,
	token_set    VARCHAR NOT NULL,
	minhash_sig  VARCHAR NOT NULL,
	length       INTEGER NOT NULL,
	frequency    BIGINT NOT NULL DEFAULT 1,
	PRIMARY KEY (kb_id, name)
);
CREATE INDEX IF NOT EXISTS idx_patterns_length ON patterns(kb_id, length);
`
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "create pattern schema", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *DuckDBPatternStore) Close() error {
	return s.conn.Close()
}

func (s *DuckDBPatternStore) UpsertOrIncrement(ctx context.Context, row PatternRow) (int64, bool, error) {
	dataJSON, err := jsonenc.Marshal(row.Data)
	if err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindValidation, "encode pattern data", err)
	}
	tokenJSON, err := jsonenc.Marshal(row.TokenSet)
	if err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindValidation, "encode token set", err)
	}
	sigJSON, err := jsonenc.Marshal(row.MinHashSig)
	if err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindValidation, "encode minhash signature", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	existenceKey := row.KBID + "|" + row.Name
	insert := func() (int64, bool, error) {
		_, err := tx.ExecContext(ctx, `
INSERT INTO patterns (kb_id, name, pattern_data, token_set, minhash_sig, length, frequency)
VALUES (?, ?, ?, ?, ?, ?, 1)`,
			row.KBID, row.Name, string(dataJSON), string(tokenJSON), string(sigJSON), row.Length)
		if err != nil {
			return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "insert pattern", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "commit insert", err)
		}
		s.exists.Add(existenceKey)
		return 1, true, nil
	}

	// A negative Test() is a guarantee, not a hint: skip the round-trip
	// SELECT entirely and insert straight away.
	if s.exists != nil && !s.exists.Test(existenceKey) {
		return insert()
	}

	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT frequency FROM patterns WHERE kb_id = ? AND name = ?`, row.KBID, row.Name).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		return insert()
	case err != nil:
		return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "lookup existing pattern", err)
	}

	newFreq := existing + 1
	if _, err := tx.ExecContext(ctx, `UPDATE patterns SET frequency = ? WHERE kb_id = ? AND name = ?`, newFreq, row.KBID, row.Name); err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "increment frequency", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, kerrors.Wrap(kerrors.KindStorageUnavailable, "commit increment", err)
	}
	return newFreq, false, nil
}

func (s *DuckDBPatternStore) scanRows(rows *sql.Rows) ([]PatternRow, error) {
	defer rows.Close()
	var out []PatternRow
	for rows.Next() {
		var r PatternRow
		var dataJSON, tokenJSON, sigJSON string
		if err := rows.Scan(&r.KBID, &r.Name, &dataJSON, &tokenJSON, &sigJSON, &r.Length, &r.Frequency); err != nil {
			return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "scan pattern row", err)
		}
		if err := jsonenc.Unmarshal([]byte(dataJSON), &r.Data); err != nil {
			return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "decode pattern data", err)
		}
		if err := jsonenc.Unmarshal([]byte(tokenJSON), &r.TokenSet); err != nil {
			return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "decode token set", err)
		}
		if err := jsonenc.Unmarshal([]byte(sigJSON), &r.MinHashSig); err != nil {
			return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "decode minhash signature", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "iterate pattern rows", err)
	}
	return out, nil
}

func (s *DuckDBPatternStore) GetRows(ctx context.Context, kbID string, names []string) ([]PatternRow, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(names)+1)
	args = append(args, kbID)
	for _, n := range names {
		args = append(args, n)
	}
	q := fmt.Sprintf(`SELECT kb_id, name, pattern_data, token_set, minhash_sig, length, frequency
FROM patterns WHERE kb_id = ? AND name IN (%s)`, inPlaceholders(len(names)))
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "query pattern rows", err)
	}
	return s.scanRows(rows)
}

func (s *DuckDBPatternStore) GetOne(ctx context.Context, kbID, name string) (PatternRow, error) {
	rows, err := s.GetRows(ctx, kbID, []string{name})
	if err != nil {
		return PatternRow{}, err
	}
	if len(rows) == 0 {
		return PatternRow{}, notFoundErr(kbID, name)
	}
	return rows[0], nil
}

func (s *DuckDBPatternStore) Count(ctx context.Context, kbID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE kb_id = ?`, kbID).Scan(&n)
	if err != nil {
		return 0, kerrors.Wrap(kerrors.KindStorageUnavailable, "count patterns", err)
	}
	return n, nil
}

func (s *DuckDBPatternStore) Scan(ctx context.Context, kbID string) (<-chan filter.Candidate, <-chan error) {
	return s.streamQuery(ctx, `SELECT kb_id, name, pattern_data, token_set, minhash_sig, length, frequency FROM patterns WHERE kb_id = ?`, kbID)
}

func (s *DuckDBPatternStore) ScanByNames(ctx context.Context, kbID string, names []string) ([]filter.Candidate, error) {
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

func (s *DuckDBPatternStore) ScanLengthRange(ctx context.Context, kbID string, lo, hi int) (<-chan filter.Candidate, <-chan error) {
	return s.streamQuery(ctx, `SELECT kb_id, name, pattern_data, token_set, minhash_sig, length, frequency FROM patterns WHERE kb_id = ? AND length BETWEEN ? AND ?`, kbID, lo, hi)
}

func (s *DuckDBPatternStore) streamQuery(ctx context.Context, query string, args ...any) (<-chan filter.Candidate, <-chan error) {
	ch := make(chan filter.Candidate)
	errCh := make(chan error, 1)

	go func() {
		defer close(ch)
		rows, err := s.conn.QueryContext(ctx, query, args...)
		if err != nil {
			errCh <- kerrors.Wrap(kerrors.KindStorageUnavailable, "stream pattern scan", err)
			return
		}
		patternRows, err := s.scanRows(rows)
		if err != nil {
			errCh <- err
			return
		}
		for _, r := range patternRows {
			select {
			case ch <- r.toCandidate():
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		errCh <- nil
	}()

	return ch, errCh
}

var _ PatternStore = (*DuckDBPatternStore)(nil)
