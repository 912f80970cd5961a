// Package session holds per-user conversation state.
//
// Sessions live in memory only. Each user has a rolling message history,
// a developer-mode flag that widens tool output verbosity, and a small
// free-form memory map that tools and commands can read and write.
package session

import (
	"sync"
	"time"
)

// MaxMessages caps the per-user history. Older messages are dropped
// from the front once the cap is exceeded.
const MaxMessages = 40

// Message is one turn of a conversation as seen by the session store.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state for a single user.
type Session struct {
	UserID        string
	Messages      []Message
	DeveloperMode bool
	Memory        map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is a concurrency-safe map of user sessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session for userID, creating it if absent.
func (s *Store) Get(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID)
}

// get assumes s.mu is held.
func (s *Store) get(userID string) *Session {
	sess, ok := s.sessions[userID]
	if !ok {
		now := s.now()
		sess = &Session{
			UserID:    userID,
			Memory:    make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.sessions[userID] = sess
	}
	return sess
}

// Append adds a message to the user's history, trimming the oldest
// entries once the history exceeds MaxMessages.
func (s *Store) Append(userID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.Messages = append(sess.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	if over := len(sess.Messages) - MaxMessages; over > 0 {
		sess.Messages = sess.Messages[over:]
	}
	sess.UpdatedAt = s.now()
}

// History returns a copy of the most recent n messages for userID.
// n <= 0 returns the full history.
func (s *Store) History(userID string, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	msgs := sess.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// Clear drops the user's message history but keeps mode and memory.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.Messages = nil
	sess.UpdatedAt = s.now()
}

// DeveloperMode reports whether developer mode is on for userID.
func (s *Store) DeveloperMode(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID).DeveloperMode
}

// SetDeveloperMode toggles developer mode for userID.
func (s *Store) SetDeveloperMode(userID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.DeveloperMode = on
	sess.UpdatedAt = s.now()
}

// Remember stores a key/value pair in the user's memory map.
func (s *Store) Remember(userID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.get(userID)
	sess.Memory[key] = value
	sess.UpdatedAt = s.now()
}

// Recall looks up a memory key for userID.
func (s *Store) Recall(userID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.get(userID).Memory[key]
	return v, ok
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
