// ABOUTME: Read-only subcommands that inspect stored conversations
// ABOUTME: threads lists every stored thread; history prints one thread's messages

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/2389/coven-chat/internal/store"
)

// threadLister is the part of the store the threads subcommand needs
type threadLister interface {
	ListThreads(ctx context.Context) ([]string, error)
}

// threadLoader is the part of the store the history subcommand needs
type threadLoader interface {
	Load(ctx context.Context, threadID string) ([]store.Message, error)
}

// printThreads lists stored threads, newest first
func printThreads(ctx context.Context, s threadLister, out io.Writer) error {
	ids, err := s.ListThreads(ctx)
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No threads stored")
		return nil
	}
	for i := len(ids) - 1; i >= 0; i-- {
		fmt.Fprintln(out, ids[i])
	}
	return nil
}

// printHistory prints a thread's messages in order
func printHistory(ctx context.Context, s threadLoader, threadID string, out io.Writer) error {
	messages, err := s.Load(ctx, threadID)
	if err != nil {
		return fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	if len(messages) == 0 {
		fmt.Fprintf(out, "Thread %s has no messages\n", threadID)
		return nil
	}
	for _, m := range messages {
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
	}
	return nil
}
