package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions idle for longer
// than the TTL are removed by a background sweep.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	ttl           time.Duration
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	stopOnce      sync.Once
	onExpire      func(count int)
	logger        *slog.Logger
	now           func() time.Time
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
// onExpire, if set, is called with the number of swept sessions.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger, onExpire func(count int)) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &MemoryStore{
		sessions:      make(map[string]*Session),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(10 * time.Minute),
		cleanupDone:   make(chan struct{}),
		onExpire:      onExpire,
		logger:        logger,
		now:           time.Now,
	}

	go s.cleanupLoop()

	return s
}

// Get returns a copy of the session and marks it as used. An idle session
// found here is removed and reported to onExpire like a swept one.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	now := s.now()
	if now.Sub(sess.LastAccess) > s.ttl {
		delete(s.sessions, id)
		s.mu.Unlock()
		s.expired(1)
		return nil, ErrNotFound
	}
	sess.LastAccess = now
	cp := *sess
	s.mu.Unlock()

	return &cp, nil
}

// Save stores a copy of sess.
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	if cp.LastAccess.IsZero() {
		cp.LastAccess = s.now()
	}
	s.sessions[sess.ID] = &cp
	return nil
}

// Delete removes a session and reports whether it was present. Deleting an
// unknown ID is not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
	})
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweep()
		case <-s.cleanupDone:
			return
		}
	}
}

func (s *MemoryStore) sweep() int {
	s.mu.Lock()
	now := s.now()
	expired := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastAccess) > s.ttl {
			delete(s.sessions, id)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		s.logger.Info("Cleaned up expired sessions", "count", expired)
		s.expired(expired)
	}
	return expired
}

func (s *MemoryStore) expired(n int) {
	if s.onExpire != nil {
		s.onExpire(n)
	}
}
