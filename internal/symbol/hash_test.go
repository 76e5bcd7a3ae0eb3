// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package symbol_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
	"github.com/sevakavakians/kato-sub008/internal/symbol"
)

func TestName_PermutingWithinEventIsIdentity(t *testing.T) {
	a := pattern.STM{{"a", "b"}, {"c"}}
	b := pattern.STM{{"b", "a"}, {"c"}}

	nameA, err := symbol.Name(a.Canonical())
	require.NoError(t, err)
	nameB, err := symbol.Name(b.Canonical())
	require.NoError(t, err)

	require.Equal(t, nameA, nameB)
}

func TestName_PermutingAcrossEventsChangesIdentity(t *testing.T) {
	a := pattern.STM{{"a", "b"}, {"c", "d"}}
	b := pattern.STM{{"c", "d"}, {"a", "b"}}

	nameA, err := symbol.Name(a.Canonical())
	require.NoError(t, err)
	nameB, err := symbol.Name(b.Canonical())
	require.NoError(t, err)

	require.NotEqual(t, nameA, nameB)
}

func TestName_HasPrefix(t *testing.T) {
	name, err := symbol.Name(pattern.STM{{"x"}}.Canonical())
	require.NoError(t, err)
	require.Contains(t, name, symbol.NamePrefix)
}

func TestName_DuplicatesWithinEventPreserved(t *testing.T) {
	// Duplicate symbols inside an event are kept (not deduplicated),
	// so a pattern with a repeated symbol differs from one without.
	withDup := pattern.STM{{"a", "a", "b"}}
	withoutDup := pattern.STM{{"a", "b"}}

	nameDup, err := symbol.Name(withDup.Canonical())
	require.NoError(t, err)
	nameNoDup, err := symbol.Name(withoutDup.Canonical())
	require.NoError(t, err)

	require.NotEqual(t, nameDup, nameNoDup)
}

func TestName_DeterministicAcrossCalls(t *testing.T) {
	s := pattern.STM{{"z", "a"}, {"m"}, {"q", "b", "a"}}
	n1, err := symbol.Name(s.Canonical())
	require.NoError(t, err)
	n2, err := symbol.Name(s.Canonical())
	require.NoError(t, err)
	require.Equal(t, n1, n2)
}
