package main

import (
	"sync"
	"time"

	"github.com/cpacia/cupforecast/bracket"
	"github.com/google/uuid"
)

const (
	sessionTTL  = 2 * time.Hour
	maxSessions = 1000
)

// bracketSession serializes every call into one engine.
type bracketSession struct {
	mu       sync.Mutex
	engine   *bracket.Engine
	lastUsed time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*bracketSession
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*bracketSession),
		now:      time.Now,
	}
}

// add stores e under a new id, dropping expired sessions first and the
// least recently used one if the store is full.
func (s *sessionStore) add(e *bracket.Engine) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > sessionTTL {
			delete(s.sessions, id)
			continue
		}
		if oldestID == "" || sess.lastUsed.Before(oldest) {
			oldestID, oldest = id, sess.lastUsed
		}
	}
	if len(s.sessions) >= maxSessions {
		delete(s.sessions, oldestID)
	}

	id := uuid.NewString()
	s.sessions[id] = &bracketSession{engine: e, lastUsed: now}
	bracketSessions.Set(float64(len(s.sessions)))
	return id
}

// with runs fn on the session while holding its lock.
func (s *sessionStore) with(id string, fn func(e *bracket.Engine) error) (bool, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok && s.now().Sub(sess.lastUsed) > sessionTTL {
		delete(s.sessions, id)
		bracketSessions.Set(float64(len(s.sessions)))
		ok = false
	}
	if ok {
		sess.lastUsed = s.now()
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return true, fn(sess.engine)
}
