// ABOUTME: ConversationStore interface and data types for coven-chat persistence
// ABOUTME: Defines Role, Message, Checkpoint and the replay rules shared by every backend

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyThreadID is returned when an operation is given an empty thread identifier
var ErrEmptyThreadID = errors.New("thread id is required")

// ErrInvalidMessage is returned when appending a message with an unknown role or no content
var ErrInvalidMessage = errors.New("invalid message")

// Role identifies who authored a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ParseRole converts a stored role string into a Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Message is one immutable turn in a conversation
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage returns a message authored by the user
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns a message authored by the assistant
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Checkpoint sources, recorded alongside each persisted message
const (
	SourceInput = "input" // the message came from the user
	SourceLoop  = "loop"  // the message was produced by the completion loop
)

// Checkpoint is the record a durable backend writes for every append.
// A thread accumulates many checkpoints, so anything that lists threads
// must collapse them by ThreadID.
type Checkpoint struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Step      int       `json:"step"`
	Source    string    `json:"source"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore persists ordered message sequences keyed by thread identifier.
// Every implementation is safe for concurrent use.
type ConversationStore interface {
	// Append adds msg to the end of the thread, creating the thread if needed.
	// Persistent backends return only once the write is durable.
	Append(ctx context.Context, threadID string, msg Message) error

	// Load returns the thread's messages in append order. Unknown threads
	// yield an empty slice. Records that cannot be replayed are skipped.
	Load(ctx context.Context, threadID string) ([]Message, error)

	// ListThreads returns every thread with at least one record, each once,
	// in the order the backend's scan first sees it.
	ListThreads(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}

// validateAppend checks the arguments shared by every Append implementation
func validateAppend(threadID string, msg Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, msg.Role)
	}
	if msg.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

// sourceFor maps a role to the checkpoint source that produced it
func sourceFor(role Role) string {
	switch role {
	case RoleUser:
		return SourceInput
	case RoleAssistant:
		return SourceLoop
	default:
		return ""
	}
}

// newCheckpoint builds the record written for one append
func newCheckpoint(threadID string, step int, msg Message) Checkpoint {
	return Checkpoint{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Step:      step,
		Source:    sourceFor(msg.Role),
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: time.Now().UTC(),
	}
}

// Message returns the checkpoint's message and whether it is replayable.
// A checkpoint without a known role or without content is malformed.
func (c Checkpoint) Message() (Message, bool) {
	if !c.Role.Valid() || c.Content == "" {
		return Message{}, false
	}
	return Message{Role: c.Role, Content: c.Content}, true
}

// replay decodes raw checkpoint payloads in order, skipping malformed ones.
// Malformed records are logged and dropped so one bad row never hides the
// rest of a conversation.
func replay(logger *slog.Logger, threadID string, raw [][]byte) []Message {
	messages := make([]Message, 0, len(raw))
	for i, data := range raw {
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			logger.Debug("skipping undecodable checkpoint",
				"thread_id", threadID,
				"index", i,
				"error", err)
			continue
		}
		msg, ok := cp.Message()
		if !ok {
			logger.Debug("skipping malformed checkpoint",
				"thread_id", threadID,
				"index", i,
				"checkpoint_id", cp.ID)
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// distinct returns ids with duplicates removed, keeping first occurrences in order
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
