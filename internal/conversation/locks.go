// ABOUTME: Reference-counted per-thread locks serialising sends within one thread
// ABOUTME: Entries exist only while a send holds or waits for the thread

package conversation

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{} // capacity 1; holding a token means holding the lock
	refs int           // holders plus waiters
}

// threadLocks maps thread IDs to mutexes that can be abandoned on context
// cancellation while waiting.
type threadLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newThreadLocks() *threadLocks {
	return &threadLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the thread's lock is held or ctx is done.
// The returned func releases the lock and must be called exactly once.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[threadID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[threadID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.release(threadID, e)
		}, nil
	case <-ctx.Done():
		l.release(threadID, e)
		return nil, ctx.Err()
	}
}

func (l *threadLocks) release(threadID string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, threadID)
	}
}

// size returns the number of threads currently locked or awaited
func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
