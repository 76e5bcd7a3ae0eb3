// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package observation implements C8: validating and assembling one
// observe call's input into an STM-appended event, per spec §4.8.
// Step ordering (validate, resolve vectors, canonicalize, append,
// append emotives, maybe auto-learn) is grounded on the teacher's
// request-validation-then-dispatch shape in internal/recommend/engine.go.
package observation

import (
	"context"
	"fmt"
	"math"

	"github.com/sevakavakians/kato-sub008/internal/cache"
	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
	"github.com/sevakavakians/kato-sub008/internal/vectorindex"
)

// Input is the raw, unvalidated content of one observe call.
type Input struct {
	Symbols  []string
	Vectors  []vectorindex.Vector
	Emotives map[string]float64
	Metadata map[string]any
}

// Pipeline runs C8 over a session, given the deployment's vector
// index and the configured vector dimensionality (0 means vectors are
// not in use for this deployment).
type Pipeline struct {
	VectorIndex      *vectorindex.Index
	VectorDimension  int
	VectorThreshold  float64
	// Dedup suppresses repeated observe payloads with identical symbols
	// and vectors arriving within its TTL window for the same session
	// (emotives and metadata are not part of the key), using the teacher's
	// LRU-with-TTL duplicate check (internal/cache/lru.go's
	// IsDuplicate), grounded on its original dedup-cache role.
	Dedup *cache.LRUCache[struct{}]
}

// Validate checks §4.8 step 1's input constraints: an observation must
// carry at least one symbol or one vector, every emotive value must be
// finite, and vectors must match the deployment's configured dimension.
func Validate(in Input, vectorDim int) error {
	if len(in.Symbols) == 0 && len(in.Vectors) == 0 {
		return kerrors.New(kerrors.KindValidation, "observation must contain at least one symbol or vector")
	}
	for k, v := range in.Emotives {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return kerrors.New(kerrors.KindValidation, fmt.Sprintf("emotive %q is not a finite number", k))
		}
	}
	if vectorDim > 0 {
		for i, v := range in.Vectors {
			if len(v) != vectorDim {
				return kerrors.New(kerrors.KindValidation, fmt.Sprintf("vector %d has dimension %d, deployment expects %d", i, len(v), vectorDim))
			}
		}
	}
	return nil
}

// Observe runs the full C8 pipeline against sess, mutating its STM and
// emotives buffer in place. It does not decide whether to auto-learn —
// that is the processor's (C11) responsibility, since learning touches
// stores C8 has no access to.
func (p *Pipeline) Observe(ctx context.Context, sess *pattern.Session, in Input) error {
	if err := Validate(in, p.VectorDimension); err != nil {
		return err
	}

	if p.Dedup != nil {
		key := sess.ID + "|" + dedupKey(in)
		if p.Dedup.IsDuplicate(key) {
			return nil
		}
	}

	symbols := make([]string, 0, len(in.Symbols)+len(in.Vectors))
	symbols = append(symbols, in.Symbols...)

	if len(in.Vectors) > 0 && p.VectorIndex != nil {
		for _, v := range in.Vectors {
			sym, err := p.VectorIndex.Resolve(ctx, v, p.VectorThreshold)
			if err != nil {
				return err
			}
			symbols = append(symbols, sym)
		}
	}

	ev := pattern.Event(symbols).Canonical()
	sess.AppendEvent(ev)
	sess.EmotivesBuffer = append(sess.EmotivesBuffer, in.Emotives)
	sess.MetadataBuffer = append(sess.MetadataBuffer, in.Metadata)

	return nil
}

// dedupKey renders a stable string for the LRU dedup check; exact
// duplicate detection only, not fuzzy.
func dedupKey(in Input) string {
	s := fmt.Sprint(in.Symbols)
	v := fmt.Sprint(in.Vectors)
	return s + "|" + v
}
