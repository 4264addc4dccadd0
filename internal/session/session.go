// Package session holds per-conversation state: authentication,
// bounded history, and the onboarding machine instance. The store is
// an explicit, injected dependency so no global session map exists.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cofina-ai/cofina-agent/internal/llm"
	"github.com/cofina-ai/cofina-agent/internal/registration"
)

// Session is one conversation's state. It must only be touched while
// held via Store.Acquire.
type Session struct {
	ID            string
	UserID        string
	Authenticated bool
	Registration  *registration.Machine
	CreatedAt     time.Time
	LastActive    time.Time

	history    []llm.Message
	maxHistory int

	mu sync.Mutex
}

// EffectiveUserID returns the user ID, or "guest" before login.
func (s *Session) EffectiveUserID() string {
	if s.Authenticated && s.UserID != "" {
		return s.UserID
	}
	return "guest"
}

// Login marks the session authenticated as userID.
func (s *Session) Login(userID string) {
	s.UserID = userID
	s.Authenticated = true
}

// AppendHistory adds messages, evicting the oldest entries beyond the
// history cap.
func (s *Session) AppendHistory(messages ...llm.Message) {
	s.history = append(s.history, messages...)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// History returns a copy of the retained conversation.
func (s *Session) History() []llm.Message {
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ClearHistory drops the retained conversation.
func (s *Session) ClearHistory() {
	s.history = nil
}

// MachineFactory builds a fresh onboarding machine for a new session.
type MachineFactory func() *registration.Machine

// Store is a concurrency-safe keyed session map. Each session carries
// its own lock so long turns on one session never block others.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	maxHistory int
	newMachine MachineFactory
}

// NewStore creates a session store. maxHistory bounds per-session
// conversation length; newMachine may be nil if onboarding is not
// wired.
func NewStore(maxHistory int, newMachine MachineFactory) *Store {
	return &Store{
		sessions:   make(map[string]*Session),
		maxHistory: maxHistory,
		newMachine: newMachine,
	}
}

// Acquire returns the session for id, creating it on first use, locked
// for the caller. The returned release func must be called when the
// turn is done. If id is empty a fresh session ID is issued.
func (s *Store) Acquire(id string) (*Session, func()) {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{
			ID:         id,
			CreatedAt:  time.Now(),
			maxHistory: s.maxHistory,
		}
		if s.newMachine != nil {
			sess.Registration = s.newMachine()
		}
		s.sessions[id] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	sess.LastActive = time.Now()
	return sess, sess.mu.Unlock
}

// Recycle removes the session and issues a replacement ID, for logout.
func (s *Store) Recycle(id string) string {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return uuid.NewString()
}

// Drop removes the session without replacement.
func (s *Store) Drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle longer than ttl and reports how many
// were dropped. Sessions held by an in-flight turn are skipped; the
// next sweep after their release sees a fresh LastActive anyway.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		idle := sess.LastActive.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}
