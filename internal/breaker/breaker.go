// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package breaker wraps store-adapter calls in a circuit breaker so a
// failing store (C4, C5, C6, C7, C2) trips open fast instead of
// hanging the processor orchestrator on every call, per spec §4.11's
// fail-fast policy ("No fallback path that hides an outage"). Adapted
// from the teacher's gobreaker wrapper, generalized over the call's
// own return type instead of interface{}, and with the threshold
// pulled out of an unrelated config struct into one owned here.
package breaker

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Config bounds one breaker's trip/reset behavior.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultConfig returns KATO's store-call breaker defaults: trip after
// 5 consecutive failures, stay open 30s before allowing a probe.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      1,
		Interval:         0,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// New builds a breaker for calls returning (T, error).
func New[T any](cfg Config) *gobreaker.CircuitBreaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return gobreaker.NewCircuitBreaker[T](settings)
}

// Execute runs fn through cb, returning its result or the breaker's
// own ErrOpenState/ErrTooManyRequests when tripped.
func Execute[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	return cb.Execute(fn)
}

// State reports the breaker's current state as a string, for logging.
func State[T any](cb *gobreaker.CircuitBreaker[T]) string {
	return cb.State().String()
}
