// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor runs the processor orchestrator's repair-queue
// worker under a restart policy, so a failure after a C4 insert
// (spec §4.11: "A failure after C4 must be repairable") doesn't leave
// C5/C2 permanently out of sync with a silently-dead goroutine.
// Adapted from the teacher's three-layer supervisor tree
// (data/messaging/api), collapsed to the single repair-worker role
// KATO actually needs; the failure-threshold/backoff/shutdown-timeout
// knobs and the sutureslog wiring are kept verbatim from the teacher's
// shape.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Config holds supervisor restart-policy configuration.
type Config struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when the threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns suture's own built-in defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// RepairSupervisor restarts the processor's repair-queue worker under
// a bounded backoff whenever it exits unexpectedly, rather than
// letting a partial learn failure go unrepaired forever.
type RepairSupervisor struct {
	root   *suture.Supervisor
	logger *slog.Logger
	config Config
}

// New creates a repair supervisor. logger may be nil, in which case
// suture's own default event handling applies.
func New(logger *slog.Logger, config Config) *RepairSupervisor {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	spec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	if logger != nil {
		handler := &sutureslog.Handler{Logger: logger}
		spec.EventHook = handler.MustHook()
	}

	return &RepairSupervisor{
		root:   suture.New("kato-repair", spec),
		logger: logger,
		config: config,
	}
}

// Add registers the repair worker (or any suture.Service) for supervision.
func (s *RepairSupervisor) Add(svc suture.Service) suture.ServiceToken {
	return s.root.Add(svc)
}

// Remove stops and removes a previously-added service.
func (s *RepairSupervisor) Remove(token suture.ServiceToken) error {
	return s.root.Remove(token)
}

// Serve runs the supervisor tree until ctx is canceled.
func (s *RepairSupervisor) Serve(ctx context.Context) error {
	return s.root.Serve(ctx)
}

// ServeBackground starts the supervisor in a background goroutine,
// returning a channel that receives its terminal error.
func (s *RepairSupervisor) ServeBackground(ctx context.Context) <-chan error {
	return s.root.ServeBackground(ctx)
}
