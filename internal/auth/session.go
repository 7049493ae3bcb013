package auth

import (
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/domain"
)

const defaultSessionTTL = 24 * time.Hour

// SessionStore holds issued sessions in memory, evicting expired ones on a
// background ticker. Grounded on the teacher's InMemoryAdminUserRepository
// map-plus-mutex shape and internal/cache.InMemoryCache's cleanup
// goroutine.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	sweep    time.Duration
	stop     chan struct{}
}

func NewSessionStore(sweepInterval time.Duration) *SessionStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	s := &SessionStore{
		sessions: make(map[string]*domain.Session),
		sweep:    sweepInterval,
		stop:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *SessionStore) run() {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *SessionStore) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

func (s *SessionStore) Put(sess *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
}

func (s *SessionStore) Get(token string) (*domain.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Bind sets a session's model restriction, transitioning issued -> bound.
func (s *SessionStore) Bind(token string, ref domain.ModelRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Bound = &ref
	sess.State = domain.SessionBound
	return nil
}

func (s *SessionStore) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = domain.SessionRevoked
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) Close() {
	close(s.stop)
}
