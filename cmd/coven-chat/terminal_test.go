// ABOUTME: Tests for the terminal chat shell
// ABOUTME: Feeds scripted input lines and checks output and stored threads

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

type completerFunc func(ctx context.Context, history []store.Message) (*completion.Response, error)

func (f completerFunc) Complete(ctx context.Context, history []store.Message) (*completion.Response, error) {
	return f(ctx, history)
}

// runTerminal runs the shell over the given input lines and returns its output
func runTerminal(t *testing.T, s *store.MemoryStore, completer completion.Service, ids []string, lines ...string) string {
	t.Helper()

	var opts []conversation.Option
	if ids != nil {
		next := 0
		opts = append(opts, conversation.WithIDGenerator(func() string {
			id := ids[next]
			next++
			return id
		}))
	}
	ctrl := conversation.New(s, completer, nil, opts...)

	var out bytes.Buffer
	term := newTerminal(ctrl, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	require.NoError(t, term.Run(context.Background()))
	return out.String()
}

func TestTerminal_SendStreams(t *testing.T) {
	s := store.NewMemoryStore()
	completer := completerFunc(func(context.Context, []store.Message) (*completion.Response, error) {
		return &completion.Response{Stream: completion.NewStaticStream("Hel", "lo")}, nil
	})

	out := runTerminal(t, s, completer, []string{"t-1"}, "Hi", "/quit")
	assert.Contains(t, out, "assistant: Hello\n")

	got, err := s.Load(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hi", got[0].Content)
	assert.Equal(t, "Hello", got[1].Content)
}

func TestTerminal_SendWholeMessage(t *testing.T) {
	out := runTerminal(t, store.NewMemoryStore(), completion.NewEcho(false), nil, "ping")
	assert.Contains(t, out, "assistant: Echo: **ping**")
}

func TestTerminal_CompletionFailure(t *testing.T) {
	s := store.NewMemoryStore()
	completer := completerFunc(func(context.Context, []store.Message) (*completion.Response, error) {
		return nil, errors.New("provider down")
	})

	out := runTerminal(t, s, completer, []string{"t-1"}, "Hi")
	assert.Contains(t, out, "your message was saved")

	got, err := s.Load(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, store.RoleUser, got[0].Role)
}

func TestTerminal_ThreadsAndSwitch(t *testing.T) {
	s := store.NewMemoryStore()
	out := runTerminal(t, s, completion.NewEcho(false), []string{"first", "second"},
		"hello first",
		"/new",
		"/threads",
		"/switch 2",
		"/history",
	)

	assert.Contains(t, out, "Started new thread second")
	// Newest first, active marked
	assert.Contains(t, out, "*  1  second\n   2  first\n")
	assert.Contains(t, out, "Switched to first")
	assert.Contains(t, out, "you: hello first")

	got, err := s.Load(context.Background(), "second")
	require.NoError(t, err)
	assert.Empty(t, got, "a new thread stores nothing until the first send")
}

func TestTerminal_SwitchByID(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "stored", store.UserMessage("Hello")))
	require.NoError(t, s.Append(ctx, "stored", store.AssistantMessage("Hi there")))

	out := runTerminal(t, s, completion.NewEcho(false), []string{"fresh"}, "/switch stored")
	assert.Contains(t, out, "Switched to stored")
	assert.Contains(t, out, "you: Hello\nassistant: Hi there\n")
}

func TestTerminal_SwitchErrors(t *testing.T) {
	out := runTerminal(t, store.NewMemoryStore(), completion.NewEcho(false), []string{"only"},
		"/switch",
		"/switch 5",
	)
	assert.Contains(t, out, "Usage: /switch <n|id>")
	assert.Contains(t, out, "No thread 5; /threads lists 1")
}

func TestTerminal_HelpAndUnknown(t *testing.T) {
	out := runTerminal(t, store.NewMemoryStore(), completion.NewEcho(false), nil, "/help", "/bogus", "/history")
	assert.Contains(t, out, "/switch <n|id>")
	assert.Contains(t, out, "Unknown command /bogus")
	assert.Contains(t, out, "(no messages yet)")
}

func TestTerminal_QuitStopsReading(t *testing.T) {
	s := store.NewMemoryStore()
	runTerminal(t, s, completion.NewEcho(false), []string{"t-1"}, "/quit", "never sent")

	ids, err := s.ListThreads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTerminal_ContextCanceled(t *testing.T) {
	ctrl := conversation.New(store.NewMemoryStore(), completion.NewEcho(false), nil)

	// A reader that never yields a line; Run must still return
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- newTerminal(ctrl, pr, &out).Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
