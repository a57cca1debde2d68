// ABOUTME: Completion service contract: conversation history in, assistant reply out
// ABOUTME: Replies arrive either whole or as an ordered stream of text fragments

package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

var (
	// ErrNoChoices is returned when the provider answers without any choices
	ErrNoChoices = errors.New("completion returned no choices")

	// ErrUnknownProvider is returned by New for an unrecognised provider name
	ErrUnknownProvider = errors.New("unknown completion provider")
)

// Service produces the assistant's reply to a conversation.
type Service interface {
	// Complete answers history, whose last entry is normally the user's
	// newest message. Exactly one of Response.Message and Response.Stream is set.
	Complete(ctx context.Context, history []store.Message) (*Response, error)
}

// Response is either a whole assistant message or a fragment stream
type Response struct {
	Message *store.Message
	Stream  Stream
}

// Stream yields reply fragments in order. Recv returns io.EOF after the last
// fragment. Close must be called once the caller is done with the stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// New returns the Service selected by cfg.Provider.
func New(cfg config.CompletionConfig) (Service, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case config.ProviderEcho:
		return NewEcho(cfg.Stream), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// StaticStream replays a fixed list of fragments. Recv and Close may be
// called from different goroutines.
type StaticStream struct {
	mu        sync.Mutex
	fragments []string
	next      int
	closed    bool
}

// NewStaticStream returns a Stream over fragments.
func NewStaticStream(fragments ...string) *StaticStream {
	return &StaticStream{fragments: fragments}
}

// Recv returns the next fragment, or io.EOF once all have been returned or
// the stream was closed.
func (s *StaticStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.next >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.next]
	s.next++
	return f, nil
}

// Close marks the stream finished.
func (s *StaticStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *StaticStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// lastUserMessage returns the newest user message in history, if any
func lastUserMessage(history []store.Message) (store.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == store.RoleUser {
			return history[i], true
		}
	}
	return store.Message{}, false
}
