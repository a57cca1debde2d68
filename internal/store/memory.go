// ABOUTME: In-memory ConversationStore for development and tests
// ABOUTME: Volatile twin of SQLiteStore; durable only for the lifetime of the process

package store

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore is a process-local ConversationStore.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint // keyed by thread ID
	order   []string                // thread IDs in first-append order
	logger  *slog.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]Checkpoint),
		logger:  slog.Default().With("component", "store", "backend", "memory"),
	}
}

// Append records msg at the end of the thread.
func (m *MemoryStore) Append(ctx context.Context, threadID string, msg Message) error {
	if err := validateAppend(threadID, msg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(newCheckpoint(threadID, len(m.threads[threadID]), msg))
	return nil
}

// appendLocked stores a checkpoint as-is. Must be called with mu held.
func (m *MemoryStore) appendLocked(cp Checkpoint) {
	if _, ok := m.threads[cp.ThreadID]; !ok {
		m.order = append(m.order, cp.ThreadID)
	}
	m.threads[cp.ThreadID] = append(m.threads[cp.ThreadID], cp)
}

// Load returns a copy of the thread's replayable messages.
func (m *MemoryStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checkpoints := m.threads[threadID]
	messages := make([]Message, 0, len(checkpoints))
	for _, cp := range checkpoints {
		msg, ok := cp.Message()
		if !ok {
			m.logger.Debug("skipping malformed checkpoint",
				"thread_id", threadID,
				"checkpoint_id", cp.ID)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ListThreads returns thread IDs in the order they were first appended to.
func (m *MemoryStore) ListThreads(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return distinct(m.order), nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Verify MemoryStore implements ConversationStore at compile time.
var _ ConversationStore = (*MemoryStore)(nil)
