// ABOUTME: Server-side registry of browser chat sessions
// ABOUTME: Tracks last use per session and reaps sessions idle past the configured timeout

package webui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/conversation"
)

// sessionEntry is one browser's conversation state
type sessionEntry struct {
	session  *conversation.Session
	lastUsed time.Time
}

// sessionRegistry maps session IDs (the JWT subject) to live sessions
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	idle     time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger
}

func newSessionRegistry(idle time.Duration, logger *slog.Logger) *sessionRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &sessionRegistry{
		sessions: make(map[string]*sessionEntry),
		idle:     idle,
		now:      time.Now,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger,
	}
	go r.cleanupLoop(ctx, cleanupInterval(idle))
	return r
}

// cleanupInterval checks about twice per idle timeout, at most once a minute.
func cleanupInterval(idle time.Duration) time.Duration {
	interval := idle / 2
	if interval <= 0 || interval > time.Minute {
		return time.Minute
	}
	if interval < time.Second {
		return time.Second
	}
	return interval
}

// put registers sess and marks it used now
func (r *sessionRegistry) put(sess *conversation.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = &sessionEntry{session: sess, lastUsed: r.now()}
}

// get returns the session and refreshes its last use. Sessions already past
// the idle timeout are treated as gone even if the reaper has not run yet.
func (r *sessionRegistry) get(id string) (*conversation.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if r.idle > 0 && now.Sub(entry.lastUsed) > r.idle {
		delete(r.sessions, id)
		return nil, false
	}
	entry.lastUsed = now
	return entry.session, true
}

// len returns the number of registered sessions
func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// cleanupLoop periodically removes stale sessions
func (r *sessionRegistry) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

// reap removes sessions idle for longer than the idle timeout
func (r *sessionRegistry) reap() int {
	if r.idle <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.sessions {
		if now.Sub(entry.lastUsed) > r.idle {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("reaped idle sessions", "count", removed, "remaining", len(r.sessions))
	}
	return removed
}

// Close stops the cleanup loop
func (r *sessionRegistry) Close() {
	r.cancel()
	<-r.done
}
