// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato-sub008/internal/breaker"
)

func TestExecute_PassesThroughResultOnSuccess(t *testing.T) {
	cb := breaker.New[int](breaker.DefaultConfig("t"))
	v, err := breaker.Execute(cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestExecute_TripsOpenAfterConsecutiveFailures(t *testing.T) {
	cfg := breaker.DefaultConfig("t")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	cb := breaker.New[int](cfg)

	failing := func() (int, error) { return 0, errors.New("boom") }
	_, _ = breaker.Execute(cb, failing)
	_, _ = breaker.Execute(cb, failing)

	_, err := breaker.Execute(cb, func() (int, error) { return 1, nil })
	require.Error(t, err)
	require.Equal(t, "open", breaker.State(cb))
}
