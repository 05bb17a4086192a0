package statestore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps session state in process memory. A zero TTL keeps
// entries until cleared.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[Key]memoryEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[Key]memoryEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string, key Key) ([]byte, error) {
	if err := checkRead(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[sessionID][key]
	if !ok || s.expired(entry) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores the value and moves the expiry of every key in the session
// forward, so a session's keys always expire together.
func (s *MemoryStore) Set(_ context.Context, sessionID string, key Key, value []byte) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}
	var expires time.Time
	if s.ttl > 0 {
		expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || s.sessionExpired(session) {
		session = make(map[Key]memoryEntry)
		s.sessions[sessionID] = session
	}
	session[key] = memoryEntry{value: append([]byte(nil), value...)}
	for k, e := range session {
		e.expires = expires
		session[k] = e
	}
	return nil
}

func (s *MemoryStore) sessionExpired(session map[Key]memoryEntry) bool {
	for _, e := range session {
		if s.expired(e) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// PurgeExpired drops expired entries and returns how many were removed.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		for key, entry := range session {
			if s.expired(entry) {
				delete(session, key)
				n++
			}
		}
		if len(session) == 0 {
			delete(s.sessions, id)
		}
	}
	return n, nil
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && !s.now().Before(e.expires)
}
