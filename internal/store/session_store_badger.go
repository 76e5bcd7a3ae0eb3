// KATO - episodic pattern-matching engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsonenc "github.com/goccy/go-json"

	"github.com/sevakavakians/kato-sub008/internal/kerrors"
	"github.com/sevakavakians/kato-sub008/internal/pattern"
)

// sessionDTO is the wire form of pattern.Session: the Lock field
// cannot be serialized and is reconstructed fresh on every load, since
// a mutex is meaningless once a session has round-tripped through
// storage and is rehydrated into a new in-process value.
type sessionDTO struct {
	ID             string                   `json:"id"`
	KBID           string                   `json:"kb_id"`
	STM            pattern.STM              `json:"stm"`
	EmotivesBuffer []map[string]float64     `json:"emotives_buffer"`
	MetadataBuffer []map[string]any         `json:"metadata_buffer"`
	Config         pattern.SessionConfig    `json:"config"`
	Created        time.Time                `json:"created"`
	LastAccess     time.Time                `json:"last_access"`
	ExpiresAt      time.Time                `json:"expires_at"`
	MaxSTMSize     int                      `json:"max_stm_size"`
}

func toDTO(s *pattern.Session) sessionDTO {
	return sessionDTO{
		ID:             s.ID,
		KBID:           s.KBID,
		STM:            s.STM,
		EmotivesBuffer: s.EmotivesBuffer,
		MetadataBuffer: s.MetadataBuffer,
		Config:         s.Config,
		Created:        s.Created,
		LastAccess:     s.LastAccess,
		ExpiresAt:      s.ExpiresAt,
		MaxSTMSize:     s.MaxSTMSize,
	}
}

func fromDTO(d sessionDTO) *pattern.Session {
	return &pattern.Session{
		ID:             d.ID,
		KBID:           d.KBID,
		STM:            d.STM,
		EmotivesBuffer: d.EmotivesBuffer,
		MetadataBuffer: d.MetadataBuffer,
		Config:         d.Config,
		Created:        d.Created,
		LastAccess:     d.LastAccess,
		ExpiresAt:      d.ExpiresAt,
		MaxSTMSize:     d.MaxSTMSize,
	}
}

// BadgerSessionStore is the durable C7 adapter.
type BadgerSessionStore struct {
	db *badger.DB
}

// OpenBadgerSessionStore opens (creating if absent) the Badger
// database at dir for session storage.
func OpenBadgerSessionStore(dir string) (*BadgerSessionStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.KindStorageUnavailable, "open session store", err)
	}
	return &BadgerSessionStore{db: db}, nil
}

func (s *BadgerSessionStore) Close() error { return s.db.Close() }

func sessionKey(id string) []byte { return []byte("session:" + id) }

func (s *BadgerSessionStore) Create(ctx context.Context, sess *pattern.Session, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sess.ID)); err == nil {
			return kerrors.New(kerrors.KindConflict, "session "+sess.ID+" already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "check existing session", err)
		}
		encoded, err := jsonenc.Marshal(toDTO(sess))
		if err != nil {
			return kerrors.Wrap(kerrors.KindValidation, "encode session", err)
		}
		entry := badger.NewEntry(sessionKey(sess.ID), encoded)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerSessionStore) Get(ctx context.Context, id string) (*pattern.Session, error) {
	var out *pattern.Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return kerrors.New(kerrors.KindSessionNotFound, "session "+id+" not found")
		}
		if err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "get session", err)
		}
		var dto sessionDTO
		if err := item.Value(func(v []byte) error { return jsonenc.Unmarshal(v, &dto) }); err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "decode session", err)
		}
		if !dto.ExpiresAt.IsZero() && time.Now().After(dto.ExpiresAt) {
			return kerrors.New(kerrors.KindSessionExpired, "session "+id+" expired")
		}
		out = fromDTO(dto)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerSessionStore) Save(ctx context.Context, sess *pattern.Session, ttl time.Duration) error {
	encoded, err := jsonenc.Marshal(toDTO(sess))
	if err != nil {
		return kerrors.Wrap(kerrors.KindValidation, "encode session", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(sess.ID), encoded)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return kerrors.Wrap(kerrors.KindStorageUnavailable, "save session", err)
		}
		return nil
	})
}

func (s *BadgerSessionStore) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
	if err != nil {
		return kerrors.Wrap(kerrors.KindStorageUnavailable, "delete session", err)
	}
	return nil
}

var _ SessionStore = (*BadgerSessionStore)(nil)
