// ABOUTME: In-memory fan-out of live thread activity to watchers such as a second browser tab
// ABOUTME: Each activity is numbered per thread, and a watcher that fell behind is told how much it missed

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// watcherBufferSize is how many activities a watcher may lag behind before
// further ones are dropped for it.
const watcherBufferSize = 64

// ActivityKind names what happened on a thread
type ActivityKind string

const (
	ActivityUser     ActivityKind = "user"     // a user message was recorded
	ActivityFragment ActivityKind = "fragment" // a piece of the assistant reply arrived
	ActivityDone     ActivityKind = "done"     // the assistant reply is complete
	ActivityError    ActivityKind = "error"    // the completion failed
)

// Activity is one event on a thread, as seen by live watchers.
//
// Seq increases by one for every activity published on the thread while it
// has watchers. Missed counts the activities dropped for this watcher since
// its previous delivery; a watcher seeing Missed > 0 should reload the
// thread's history rather than trust its partial reply.
type Activity struct {
	Kind      ActivityKind `json:"kind"`
	ThreadID  string       `json:"thread_id"`
	Seq       uint64       `json:"seq"`
	Text      string       `json:"text,omitempty"`
	Error     string       `json:"error,omitempty"`
	Missed    int          `json:"missed,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func userActivity(text string) Activity {
	return Activity{Kind: ActivityUser, Text: text}
}

func fragmentActivity(fragment string) Activity {
	return Activity{Kind: ActivityFragment, Text: fragment}
}

// doneActivity carries the whole reply, empty when nothing was recorded
func doneActivity(reply string) Activity {
	return Activity{Kind: ActivityDone, Text: reply}
}

func errorActivity(err error) Activity {
	return Activity{Kind: ActivityError, Error: err.Error()}
}

type watcher struct {
	ch     chan Activity
	missed int
}

// threadWatchers is the state for one watched thread
type threadWatchers struct {
	watchers map[string]*watcher
	seq      uint64
}

// FragmentBroadcaster fans thread activity out to watchers. Watchers see
// sends made from any session, so a second browser tab follows a reply as it
// streams. Publishing never blocks on a slow watcher.
type FragmentBroadcaster struct {
	mu      sync.Mutex
	threads map[string]*threadWatchers
	closed  bool
	logger  *slog.Logger
}

// NewFragmentBroadcaster creates a broadcaster. Pass nil logger for default.
func NewFragmentBroadcaster(logger *slog.Logger) *FragmentBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &FragmentBroadcaster{
		threads: make(map[string]*threadWatchers),
		logger:  logger.With("component", "broadcaster"),
	}
}

// Subscribe starts watching threadID. The returned channel receives activity
// until ctx is cancelled, Unsubscribe is called with the returned ID, or the
// broadcaster closes.
func (b *FragmentBroadcaster) Subscribe(ctx context.Context, threadID string) (<-chan Activity, string) {
	subID := uuid.New().String()
	ch := make(chan Activity, watcherBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	tw, ok := b.threads[threadID]
	if !ok {
		tw = &threadWatchers{watchers: make(map[string]*watcher)}
		b.threads[threadID] = tw
	}
	tw.watchers[subID] = &watcher{ch: ch}
	b.mu.Unlock()

	b.logger.Debug("watcher added", "thread_id", threadID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish stamps activity with its thread, sequence number and time, and
// hands it to every watcher of the thread that has buffer room.
func (b *FragmentBroadcaster) Publish(threadID string, activity Activity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tw, ok := b.threads[threadID]
	if !ok {
		return
	}

	tw.seq++
	activity.ThreadID = threadID
	activity.Seq = tw.seq
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}

	// Channel sends below never block, so holding the lock is fine
	for subID, w := range tw.watchers {
		delivered := activity
		delivered.Missed = w.missed
		select {
		case w.ch <- delivered:
			w.missed = 0
		default:
			w.missed++
			b.logger.Debug("dropped activity for slow watcher",
				"thread_id", threadID,
				"sub_id", subID,
				"kind", activity.Kind,
				"missed", w.missed)
		}
	}
}

// Unsubscribe stops a watch and closes its channel. Unknown IDs are ignored.
func (b *FragmentBroadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tw, ok := b.threads[threadID]
	if !ok {
		return
	}
	w, ok := tw.watchers[subID]
	if !ok {
		return
	}

	delete(tw.watchers, subID)
	close(w.ch)
	if len(tw.watchers) == 0 {
		delete(b.threads, threadID)
	}

	b.logger.Debug("watcher removed", "thread_id", threadID, "sub_id", subID)
}

// Watching returns the number of watchers on threadID.
func (b *FragmentBroadcaster) Watching(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tw, ok := b.threads[threadID]; ok {
		return len(tw.watchers)
	}
	return 0
}

// Close ends every watch. Later subscriptions get an already closed channel.
func (b *FragmentBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for threadID, tw := range b.threads {
		for _, w := range tw.watchers {
			close(w.ch)
		}
		delete(b.threads, threadID)
	}

	b.logger.Debug("broadcaster closed")
}
