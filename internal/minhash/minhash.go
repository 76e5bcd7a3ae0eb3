// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package minhash implements C2: MinHash signatures and LSH banding
// over symbol sets, for cheap high-recall candidate lookup ahead of
// the exact similarity engine.
//
// The bucket-per-band lookup is grounded on the teacher's
// SpatialHashGrid (internal/cache/spatial_hash.go): instead of
// bucketing 2-D lat/lon cells, each band buckets R consecutive
// minima into one hash, and only patterns sharing a bucket with the
// query signature in any band are considered candidates.
package minhash

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Width is the default MinHash signature width H.
const Width = 128

// Bands is the default number of LSH bands B.
const Bands = 32

// Rows is the default number of rows per band R, so that B*R = H.
const Rows = 4

// Params bundles the (H, B, R) configuration. B*R must equal H.
type Params struct {
	H int
	B int
	R int
}

// DefaultParams returns the deployment defaults (H=128, B=32, R=4).
// With Jaccard similarity threshold t, the probability a candidate
// pair sharing an estimated-Jaccard of t collides in at least one
// band is 1-(1-t^R)^B. For B=32,R=4 the s-curve knee, (1/B)^(1/R),
// sits near t=0.42; at t=0.3 the collision probability is about 0.23,
// at t=0.5 about 0.87 and at t=0.7 above 0.99.
func DefaultParams() Params {
	return Params{H: Width, B: Bands, R: Rows}
}

// Validate checks B*R == H and that all three are positive.
func (p Params) Validate() bool {
	return p.H > 0 && p.B > 0 && p.R > 0 && p.B*p.R == p.H
}

// Signature is a fixed-width array of 64-bit minima, one per hash
// function.
type Signature []uint64

// Compute derives the MinHash signature of a token set using H
// independent hash functions, each xxhash64 seeded by its row index.
// Token order does not affect the result: the signature is a function
// of the token *set*, matching §4.2's "deduplicated token set".
func Compute(tokens []string, p Params) Signature {
	sig := make(Signature, p.H)
	for i := range sig {
		sig[i] = ^uint64(0) // max value; minimum starts unset
	}

	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		for row := 0; row < p.H; row++ {
			h := hashWithSeed(tok, uint64(row))
			if h < sig[row] {
				sig[row] = h
			}
		}
	}
	return sig
}

// hashWithSeed combines a seed into the xxhash64 stream deterministically.
func hashWithSeed(tok string, seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.Write([]byte(tok))
	return d.Sum64()
}

// EstimateJaccard estimates the Jaccard similarity of the two token
// sets behind a and b from their MinHash signatures: the fraction of
// rows where the minima agree.
func EstimateJaccard(a, b Signature) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	agree := 0
	for i := range a {
		if a[i] == b[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(a))
}

// BandHashes collapses a signature into B band keys, each the hash of
// R consecutive minima, per §4.2: "B bands x R rows such that B*R = H;
// each band collapses R consecutive minima into one bucket key".
func BandHashes(sig Signature, p Params) []uint64 {
	if !p.Validate() || len(sig) != p.H {
		return nil
	}
	bands := make([]uint64, p.B)
	buf := make([]byte, 8*p.R)
	for b := 0; b < p.B; b++ {
		for r := 0; r < p.R; r++ {
			binary.LittleEndian.PutUint64(buf[r*8:], sig[b*p.R+r])
		}
		d := xxhash.New()
		_, _ = d.Write(buf)
		bands[b] = d.Sum64()
	}
	return bands
}

// SortedTokens is a convenience for building a deterministic token
// slice from a set, used by callers that hold a map[string]struct{}.
func SortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
