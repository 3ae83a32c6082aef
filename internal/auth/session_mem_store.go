package auth

import (
	"context"
	"sync"
	"time"
)

var _ SessionStore = (*MemSessionStore)(nil)

type MemSessionStore struct {
	mutex    sync.Mutex
	sessions map[string]SessionRecord
	// admin id -> token hashes
	byAdmin map[string]map[string]struct{}
}

func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{
		sessions: make(map[string]SessionRecord),
		byAdmin:  make(map[string]map[string]struct{}),
	}
}

func (s *MemSessionStore) Save(_ context.Context, rec SessionRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[rec.TokenHash] = rec
	hashes, ok := s.byAdmin[rec.AdminID]
	if !ok {
		hashes = make(map[string]struct{})
		s.byAdmin[rec.AdminID] = hashes
	}
	hashes[rec.TokenHash] = struct{}{}
	return nil
}

func (s *MemSessionStore) Get(_ context.Context, tokenHash string) (SessionRecord, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.sessions[tokenHash]
	if !ok {
		return SessionRecord{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *MemSessionStore) Touch(_ context.Context, tokenHash string, lastSeen time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.sessions[tokenHash]
	if !ok {
		return ErrSessionNotFound
	}
	rec.LastSeenAt = lastSeen
	s.sessions[tokenHash] = rec
	return nil
}

func (s *MemSessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.deleteLocked(tokenHash)
	return nil
}

func (s *MemSessionStore) deleteLocked(tokenHash string) bool {
	rec, ok := s.sessions[tokenHash]
	if !ok {
		return false
	}
	delete(s.sessions, tokenHash)
	if hashes, ok := s.byAdmin[rec.AdminID]; ok {
		delete(hashes, tokenHash)
		if len(hashes) == 0 {
			delete(s.byAdmin, rec.AdminID)
		}
	}
	return true
}

func (s *MemSessionStore) DeleteByAdmin(_ context.Context, adminID string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	hashes := s.byAdmin[adminID]
	for h := range hashes {
		delete(s.sessions, h)
	}
	delete(s.byAdmin, adminID)
	return len(hashes), nil
}

func (s *MemSessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for h, rec := range s.sessions {
		if rec.expired(now) && s.deleteLocked(h) {
			removed++
		}
	}
	return removed, nil
}

func (s *MemSessionStore) Count(_ context.Context) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sessions), nil
}
