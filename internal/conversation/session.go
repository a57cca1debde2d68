// ABOUTME: Per-session display state owned by a UI shell
// ABOUTME: Tracks the active thread, its rendered messages and the session's thread index

package conversation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/2389/coven-chat/internal/store"
)

// DisplayMessage is a message as a shell renders it
type DisplayMessage struct {
	Role store.Role `json:"role"`
	Text string     `json:"text"`
}

// Session is the state one user interface keeps between interactions.
// It is safe for concurrent use; accessors return copies.
type Session struct {
	ID string

	mu       sync.Mutex
	threadID string
	messages []DisplayMessage
	threads  []string // insertion order, no duplicates
}

// NewSession returns an empty session. Most callers want Controller.NewSession.
func NewSession(id string) *Session {
	return &Session{ID: id}
}

// ThreadID returns the active thread
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Messages returns the active thread's display list
func (s *Session) Messages() []DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// Threads returns the session's thread index in insertion order
func (s *Session) Threads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.threads)
}

func (s *Session) addThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.threads, threadID) {
		s.threads = append(s.threads, threadID)
	}
}

// activate makes threadID the active thread with the given display list
func (s *Session) activate(threadID string, messages []DisplayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = threadID
	s.messages = slices.Clone(messages)
}

// appendIfActive adds m to the display list when threadID is being viewed
func (s *Session) appendIfActive(threadID string, m DisplayMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID == threadID {
		s.messages = append(s.messages, m)
	}
}

// toDisplay translates stored messages into display entries.
func toDisplay(messages []store.Message) ([]DisplayMessage, error) {
	out := make([]DisplayMessage, 0, len(messages))
	for _, m := range messages {
		d, err := displayMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func displayMessage(m store.Message) (DisplayMessage, error) {
	switch m.Role {
	case store.RoleUser, store.RoleAssistant:
		return DisplayMessage{Role: m.Role, Text: m.Content}, nil
	default:
		return DisplayMessage{}, fmt.Errorf("cannot display message with role %q", m.Role)
	}
}
