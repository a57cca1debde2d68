// ABOUTME: Offline completion service that echoes the user's last message back
// ABOUTME: Used for development and tests; can stream its reply word by word

package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-chat/internal/store"
)

// Echo answers every conversation with formatted markdown built from the
// user's last message.
type Echo struct {
	stream bool
}

// NewEcho creates an Echo completer. When stream is set the reply is
// returned as one fragment per word.
func NewEcho(stream bool) *Echo {
	return &Echo{stream: stream}
}

// Complete implements Service.
func (e *Echo) Complete(ctx context.Context, history []store.Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	last, ok := lastUserMessage(history)
	if !ok {
		return nil, fmt.Errorf("echo: history has no user message")
	}

	reply := echoReply(last.Content)
	if e.stream {
		return &Response{Stream: NewStaticStream(strings.SplitAfter(reply, " ")...)}, nil
	}

	msg := store.AssistantMessage(reply)
	return &Response{Message: &msg}, nil
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "bullet") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote.\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}

// Verify Echo implements Service at compile time.
var _ Service = (*Echo)(nil)
