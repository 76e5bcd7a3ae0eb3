// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"sync"
	"time"

	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// MemorySessionStore is an in-process fake of C7, expiring sessions
// lazily on Get rather than via a background sweep.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionDTO
}

// NewMemorySessionStore builds an empty fake session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]sessionDTO)}
}

func (s *MemorySessionStore) Close() error { return nil }

func (s *MemorySessionStore) Create(ctx context.Context, sess *pattern.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return kerrors.New(kerrors.KindConflict, "session "+sess.ID+" already exists")
	}
	dto := toDTO(sess)
	if ttl > 0 {
		dto.ExpiresAt = time.Now().Add(ttl)
	}
	s.sessions[sess.ID] = dto
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*pattern.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dto, ok := s.sessions[id]
	if !ok {
		return nil, kerrors.New(kerrors.KindSessionNotFound, "session "+id+" not found")
	}
	if !dto.ExpiresAt.IsZero() && time.Now().After(dto.ExpiresAt) {
		delete(s.sessions, id)
		return nil, kerrors.New(kerrors.KindSessionExpired, "session "+id+" expired")
	}
	return fromDTO(dto), nil
}

func (s *MemorySessionStore) Save(ctx context.Context, sess *pattern.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dto := toDTO(sess)
	if ttl > 0 && dto.ExpiresAt.IsZero() {
		dto.ExpiresAt = time.Now().Add(ttl)
	}
	s.sessions[sess.ID] = dto
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
