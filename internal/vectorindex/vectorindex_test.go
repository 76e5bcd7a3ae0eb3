// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package vectorindex_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/vectorindex"
)

func TestResolve_ExactRepeatYieldsSameSymbol(t *testing.T) {
	ix := vectorindex.New(3)
	ctx := context.Background()

	v := vectorindex.Vector{0.1, 0.2, 0.3}
	sym1, err := ix.Resolve(ctx, v, 0.99)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sym1, "VCTR|"))

	sym2, err := ix.Resolve(ctx, v, 0.99)
	require.NoError(t, err)
	require.Equal(t, sym1, sym2)
}

func TestResolve_DistinctVectorsYieldDistinctSymbols(t *testing.T) {
	ix := vectorindex.New(3)
	ctx := context.Background()

	sym1, err := ix.Resolve(ctx, vectorindex.Vector{1, 0, 0}, 0.99)
	require.NoError(t, err)
	sym2, err := ix.Resolve(ctx, vectorindex.Vector{0, 1, 0}, 0.99)
	require.NoError(t, err)
	require.NotEqual(t, sym1, sym2)
}

func TestResolve_DimensionMismatchErrors(t *testing.T) {
	ix := vectorindex.New(3)
	_, err := ix.Resolve(context.Background(), vectorindex.Vector{1, 2}, 0.9)
	require.Error(t, err)
}

func TestLookup_ReturnsStoredVector(t *testing.T) {
	ix := vectorindex.New(2)
	ctx := context.Background()
	v := vectorindex.Vector{0.5, 0.5}
	sym, err := ix.Resolve(ctx, v, 0.99)
	require.NoError(t, err)

	got, ok := ix.Lookup(sym)
	require.True(t, ok)
	require.Equal(t, v, got)
}
