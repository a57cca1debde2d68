// ABOUTME: Controller is the central layer between UI shells, storage and completion
// ABOUTME: Record first, then complete: the user message is durable before the assistant is asked

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/store"
)

var (
	// ErrEmptyMessage is returned when the user submits blank text
	ErrEmptyMessage = errors.New("message is empty")

	// ErrCompletionFailed matches every *CompletionError via errors.Is
	ErrCompletionFailed = errors.New("completion failed")

	// ErrUserRecorded matches any SendMessage error returned after the user
	// message was appended. Retrying such a send would record it twice.
	ErrUserRecorded = errors.New("user message recorded")
)

// CompletionError reports that the completion service failed after the
// user's message was recorded. The thread holds the user message and no
// assistant reply.
type CompletionError struct {
	ThreadID string
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed for thread %s: %v", e.ThreadID, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCompletionFailed or ErrUserRecorded.
func (e *CompletionError) Is(target error) bool {
	return target == ErrCompletionFailed || target == ErrUserRecorded
}

// recordedError wraps a storage failure that happened after the user
// message was appended.
type recordedError struct {
	err error
}

func (e *recordedError) Error() string { return e.err.Error() }

func (e *recordedError) Unwrap() error { return e.err }

func (e *recordedError) Is(target error) bool { return target == ErrUserRecorded }

// ConversationStore defines what the controller needs from storage
type ConversationStore interface {
	Append(ctx context.Context, threadID string, msg store.Message) error
	Load(ctx context.Context, threadID string) ([]store.Message, error)
	ListThreads(ctx context.Context) ([]string, error)
}

// FragmentFunc receives assistant reply fragments in order, on the
// goroutine that called SendMessage.
type FragmentFunc func(fragment string)

// Option configures a Controller
type Option func(*Controller)

// WithBroadcaster publishes thread activity to b.
func WithBroadcaster(b *FragmentBroadcaster) Option {
	return func(c *Controller) { c.broadcaster = b }
}

// WithIDGenerator replaces the UUID v4 generator used for new threads.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// Controller accepts user input, persists it, obtains the assistant reply
// and persists that too. Sends on one thread are serialised; sends on
// different threads run concurrently.
type Controller struct {
	store       ConversationStore
	completer   completion.Service
	broadcaster *FragmentBroadcaster
	locks       *threadLocks
	newID       func() string
	logger      *slog.Logger
}

// New creates a Controller
func New(store ConversationStore, completer completion.Service, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		store:     store,
		completer: completer,
		locks:     newThreadLocks(),
		newID:     uuid.NewString,
		logger:    logger.With("component", "conversation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSession starts a session whose thread index is seeded from storage and
// whose active thread is a fresh, empty one.
func (c *Controller) NewSession(ctx context.Context) (*Session, error) {
	ids, err := c.store.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}

	sess := NewSession(uuid.NewString())
	for _, id := range ids {
		sess.addThread(id)
	}
	c.NewThread(sess)

	c.logger.Debug("session started",
		"session_id", sess.ID,
		"known_threads", len(ids))
	return sess, nil
}

// NewThread generates a thread ID, registers it in the session's index and
// makes it the active, empty thread. Nothing is stored until the first send.
func (c *Controller) NewThread(sess *Session) string {
	id := c.newID()
	sess.activate(id, nil)
	sess.addThread(id)
	return id
}

// SwitchThread makes threadID active and returns its messages for display.
// Unknown threads load as empty.
func (c *Controller) SwitchThread(ctx context.Context, sess *Session, threadID string) ([]DisplayMessage, error) {
	if threadID == "" {
		return nil, store.ErrEmptyThreadID
	}

	messages, err := c.History(ctx, threadID)
	if err != nil {
		return nil, err
	}

	sess.activate(threadID, messages)
	sess.addThread(threadID)
	return messages, nil
}

// ListThreads returns the session's thread index in insertion order, each
// thread once. Shells show it reversed so the newest thread comes first.
func (c *Controller) ListThreads(sess *Session) []string {
	return sess.Threads()
}

// History returns a thread's stored messages translated for display.
func (c *Controller) History(ctx context.Context, threadID string) ([]DisplayMessage, error) {
	messages, err := c.store.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	return toDisplay(messages)
}

// SendMessage records text as a user message on threadID, asks the
// completion service for a reply, and records the reply.
//
// Streamed fragments are passed to onFragment (which may be nil) in order as
// they arrive. On completion failure the user message stays recorded, no
// assistant message is stored, and a *CompletionError is returned. sess may
// be nil; when it is viewing threadID its display list gains both turns.
func (c *Controller) SendMessage(ctx context.Context, sess *Session, threadID, text string, onFragment FragmentFunc) (store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return store.Message{}, ErrEmptyMessage
	}
	if threadID == "" {
		return store.Message{}, store.ErrEmptyThreadID
	}

	unlock, err := c.locks.acquire(ctx, threadID)
	if err != nil {
		return store.Message{}, fmt.Errorf("waiting for thread %s: %w", threadID, err)
	}
	defer unlock()

	// 1. Record user message FIRST
	user := store.UserMessage(text)
	if err := c.store.Append(ctx, threadID, user); err != nil {
		return store.Message{}, fmt.Errorf("recording user message: %w", err)
	}
	if sess != nil {
		sess.addThread(threadID)
		sess.appendIfActive(threadID, DisplayMessage{Role: user.Role, Text: user.Content})
	}
	c.publish(threadID, userActivity(text))

	c.logger.Debug("user message recorded", "thread_id", threadID)

	// 2. Ask for a reply with the full history
	history, err := c.store.Load(ctx, threadID)
	if err != nil {
		return store.Message{}, &recordedError{fmt.Errorf("loading thread %s: %w", threadID, err)}
	}

	content, err := c.complete(ctx, threadID, history, onFragment)
	if err != nil {
		c.logger.Warn("completion failed",
			"thread_id", threadID,
			"error", err)
		c.publish(threadID, errorActivity(err))
		return store.Message{}, &CompletionError{ThreadID: threadID, Err: err}
	}

	// 3. Record the reply
	reply := store.AssistantMessage(content)
	if content == "" {
		c.logger.Warn("completion returned empty reply, nothing recorded", "thread_id", threadID)
		c.publish(threadID, doneActivity(""))
		return reply, nil
	}

	if err := c.store.Append(ctx, threadID, reply); err != nil {
		return store.Message{}, &recordedError{fmt.Errorf("recording assistant message: %w", err)}
	}
	if sess != nil {
		sess.appendIfActive(threadID, DisplayMessage{Role: reply.Role, Text: reply.Content})
	}
	c.publish(threadID, doneActivity(content))

	c.logger.Debug("assistant message recorded",
		"thread_id", threadID,
		"length", len(content))
	return reply, nil
}

// complete calls the completion service and returns the full reply text.
func (c *Controller) complete(ctx context.Context, threadID string, history []store.Message, onFragment FragmentFunc) (string, error) {
	resp, err := c.completer.Complete(ctx, history)
	if err != nil {
		return "", err
	}

	switch {
	case resp == nil:
		return "", errors.New("completion returned no response")
	case resp.Stream != nil:
		return c.drain(ctx, threadID, resp.Stream, onFragment)
	case resp.Message != nil:
		return resp.Message.Content, nil
	default:
		return "", errors.New("completion returned neither message nor stream")
	}
}

// drain reads the stream on a receiver goroutine into an unbounded queue and
// delivers fragments on the calling goroutine, so a slow onFragment never
// holds up receipt. It returns only after the receiver has exited.
func (c *Controller) drain(ctx context.Context, threadID string, stream completion.Stream, onFragment FragmentFunc) (string, error) {
	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() {
			if err := stream.Close(); err != nil {
				c.logger.Debug("closing completion stream", "thread_id", threadID, "error", err)
			}
		})
	}
	defer closeStream()

	q := newFragmentQueue()
	go func() {
		for {
			f, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				q.finish(err)
				return
			}
			q.push(f)
		}
	}()

	var reply strings.Builder
	done := ctx.Done()
	for {
		fragments, finished, err := q.take()
		for _, f := range fragments {
			if f == "" {
				continue
			}
			reply.WriteString(f)
			if onFragment != nil {
				onFragment(f)
			}
			c.publish(threadID, fragmentActivity(f))
		}
		if finished {
			// A cancelled stream may end cleanly; the reply is still partial
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return reply.String(), err
		}

		select {
		case <-q.ready:
		case <-done:
			// Unblock the receiver, then wait for it to finish
			closeStream()
			done = nil
		}
	}
}

func (c *Controller) publish(threadID string, a Activity) {
	if c.broadcaster != nil {
		c.broadcaster.Publish(threadID, a)
	}
}

// fragmentQueue is an unbounded FIFO between the stream receiver and the
// delivering goroutine.
type fragmentQueue struct {
	mu       sync.Mutex
	items    []string
	finished bool
	err      error
	ready    chan struct{} // capacity 1, signalled on every change
}

func newFragmentQueue() *fragmentQueue {
	return &fragmentQueue{ready: make(chan struct{}, 1)}
}

func (q *fragmentQueue) push(f string) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.signal()
}

func (q *fragmentQueue) finish(err error) {
	q.mu.Lock()
	q.finished = true
	q.err = err
	q.mu.Unlock()
	q.signal()
}

func (q *fragmentQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued so far.
func (q *fragmentQueue) take() ([]string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, q.finished, q.err
}
