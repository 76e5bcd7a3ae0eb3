// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// SessionStore is C7: session lifecycle persistence. The Badger
// adapter relies on Badger's native per-key TTL (SetEntry(...).WithTTL)
// so expiry requires no background sweep, per §9's design note.
type SessionStore interface {
	// Create persists a new session, failing with kerrors.KindConflict
	// if the ID already exists.
	Create(ctx context.Context, s *pattern.Session, ttl time.Duration) error

	// Get fetches a session by ID, returning
	// kerrors.KindSessionNotFound if absent and
	// kerrors.KindSessionExpired if its TTL has lapsed.
	Get(ctx context.Context, id string) (*pattern.Session, error)

	// Save persists the full session state (STM, emotives buffer,
	// config, timestamps) back to the store after a mutating
	// operation. The session's own ExpiresAt decides when Get reports
	// it expired; the Badger adapter also sets ttl as the key's TTL,
	// and the memory fake uses ttl only to fill a zero ExpiresAt.
	Save(ctx context.Context, s *pattern.Session, ttl time.Duration) error

	// Delete removes a session immediately.
	Delete(ctx context.Context, id string) error

	Close() error
}
