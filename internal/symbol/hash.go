// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package symbol implements C1: canonical ordering and the stable
// SHA1-based pattern identity scheme of spec §4.1.
//
// Identity is: "PTRN|" + lowercase_hex(sha1(serialize(canonical))).
// Two observers with the same events in the same order must produce
// the same id regardless of symbol insertion order within an event;
// two patterns differing only in event order must (outside trivial
// cases) produce different ids.
package symbol

import (
	"crypto/sha1" //nolint:gosec // identity scheme, not a security primitive
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// NamePrefix is prepended to every pattern identity.
const NamePrefix = "PTRN|"

// VectorPrefix is prepended to every vector-derived token (§3: "A
// dense vector is quantized/hashed into a symbol of the form
// VCTR|<hex>").
const VectorPrefix = "VCTR|"

// serializable mirrors the canonical pattern shape for deterministic
// JSON encoding. Field order is fixed by struct declaration order,
// which go-json (like encoding/json) preserves, keeping the byte
// encoding stable across runs on the same platform per §4.1's
// "deterministic byte-encoding... fixed for the lifetime of a
// deployment".
type serializable struct {
	Events [][]string `json:"events"`
}

// Serialize produces the deterministic byte encoding of a canonical
// STM used as the hash preimage. canonical must already have each
// event internally sorted (pattern.STM.Canonical); event order across
// the STM is preserved verbatim since it is significant to identity.
func Serialize(canonical pattern.STM) ([]byte, error) {
	s := serializable{Events: make([][]string, len(canonical))}
	for i, ev := range canonical {
		row := make([]string, len(ev))
		copy(row, ev)
		s.Events[i] = row
	}
	return json.Marshal(s)
}

// Name computes the pattern identity for a canonical STM. Callers
// must pass an already-canonicalized STM (STM.Canonical()); Name does
// not re-sort, so that callers control exactly when canonicalization
// happens (once, at learn time).
func Name(canonical pattern.STM) (string, error) {
	raw, err := Serialize(canonical)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw) //nolint:gosec // identity scheme, collision resistance not required
	return NamePrefix + hex.EncodeToString(sum[:]), nil
}
