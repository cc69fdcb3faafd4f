package auth

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore keeps sign-in sessions in process memory. It suits
// development and single-replica catalog deployments; sessions vanish on
// restart and the purge worker keeps the map from growing unbounded.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

// Save records or refreshes the session for token.
func (s *MemorySessionStore) Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	record := SessionRecord{
		Token:             token,
		UserID:            userID,
		ExpiresAt:         expiresAt,
		AbsoluteExpiresAt: absoluteExpiresAt,
	}
	s.mu.Lock()
	s.sessions[token] = record
	s.mu.Unlock()
	return nil
}

// Get looks up the session for token.
func (s *MemorySessionStore) Get(token string) (SessionRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.sessions[token]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete forgets the session for token.
func (s *MemorySessionStore) Delete(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// PurgeExpired drops every session past its idle or absolute deadline.
func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for token, record := range s.sessions {
		expired := now.After(record.ExpiresAt) ||
			(!record.AbsoluteExpiresAt.IsZero() && now.After(record.AbsoluteExpiresAt))
		if expired {
			delete(s.sessions, token)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always succeeds; process memory cannot be unreachable.
func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}
