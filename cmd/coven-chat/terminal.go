// ABOUTME: Interactive terminal shell for coven-chat
// ABOUTME: Line-oriented chat loop with slash commands; assistant replies stream to stdout as they arrive

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

var (
	userLabel      = color.New(color.FgGreen, color.Bold)
	assistantLabel = color.New(color.FgCyan, color.Bold)
	dim            = color.New(color.FgHiBlack)
	errorLabel     = color.New(color.FgRed)
)

// terminal drives one conversation.Session from a line reader
type terminal struct {
	ctrl *conversation.Controller
	in   io.Reader
	out  io.Writer
	sess *conversation.Session
}

func newTerminal(ctrl *conversation.Controller, in io.Reader, out io.Writer) *terminal {
	return &terminal{ctrl: ctrl, in: in, out: out}
}

// readLines feeds scanned lines to the returned channel until input ends or
// ctx is canceled. The error channel carries the scanner error, if any.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		}
	}()

	return lines, errCh
}

// Run starts a session and processes input until /quit, end of input, or
// ctx is canceled.
func (t *terminal) Run(ctx context.Context) error {
	sess, err := t.ctrl.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	t.sess = sess

	fmt.Fprintln(t.out, "coven-chat: type a message and press Enter. /help for commands.")
	fmt.Fprintln(t.out)

	// Stops the reader goroutine once the loop returns
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines, errCh := readLines(ctx, t.in)
	for {
		fmt.Fprint(t.out, "> ")

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(t.out)
				select {
				case err := <-errCh:
					return fmt.Errorf("reading input: %w", err)
				default:
					return nil
				}
			}
			input = strings.TrimSpace(line)
		}

		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := t.command(ctx, input); quit {
				return nil
			}
			fmt.Fprintln(t.out)
			continue
		}

		t.send(ctx, input)
		fmt.Fprintln(t.out)
	}
}

// command runs a slash command and reports whether the shell should exit
func (t *terminal) command(ctx context.Context, input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		t.printHelp()
	case "/new":
		id := t.ctrl.NewThread(t.sess)
		fmt.Fprintf(t.out, "Started new thread %s\n", id)
	case "/threads":
		t.printThreads()
	case "/switch":
		t.switchThread(ctx, arg)
	case "/history":
		t.printMessages(t.sess.Messages())
	default:
		fmt.Fprintf(t.out, "Unknown command %s. /help lists commands.\n", name)
	}
	return false
}

// printHelp displays available commands.
func (t *terminal) printHelp() {
	fmt.Fprintln(t.out, "Commands:")
	fmt.Fprintln(t.out, "  /new            Start a new thread")
	fmt.Fprintln(t.out, "  /threads        List threads, newest first")
	fmt.Fprintln(t.out, "  /switch <n|id>  Switch to a thread by list number or ID")
	fmt.Fprintln(t.out, "  /history        Show the current thread")
	fmt.Fprintln(t.out, "  /help           Show this help")
	fmt.Fprintln(t.out, "  /quit           Exit")
}

// newestFirst is the thread list as the shell numbers it
func (t *terminal) newestFirst() []string {
	ids := t.ctrl.ListThreads(t.sess)
	slices.Reverse(ids)
	return ids
}

func (t *terminal) printThreads() {
	active := t.sess.ThreadID()
	for i, id := range t.newestFirst() {
		marker := " "
		if id == active {
			marker = "*"
		}
		fmt.Fprintf(t.out, "%s %2d  %s\n", marker, i+1, id)
	}
}

// switchThread accepts a 1-based index into /threads or a thread ID
func (t *terminal) switchThread(ctx context.Context, arg string) {
	if arg == "" {
		fmt.Fprintln(t.out, "Usage: /switch <n|id>")
		return
	}

	threadID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		ids := t.newestFirst()
		if n < 1 || n > len(ids) {
			fmt.Fprintf(t.out, "No thread %d; /threads lists %d\n", n, len(ids))
			return
		}
		threadID = ids[n-1]
	}

	messages, err := t.ctrl.SwitchThread(ctx, t.sess, threadID)
	if err != nil {
		errorLabel.Fprintf(t.out, "[error] %v\n", err)
		return
	}
	fmt.Fprintf(t.out, "Switched to %s\n", threadID)
	t.printMessages(messages)
}

func (t *terminal) printMessages(messages []conversation.DisplayMessage) {
	if len(messages) == 0 {
		dim.Fprintln(t.out, "(no messages yet)")
		return
	}
	for _, m := range messages {
		t.printLabel(m.Role)
		fmt.Fprintln(t.out, m.Text)
	}
}

func (t *terminal) printLabel(role store.Role) {
	switch role {
	case store.RoleUser:
		userLabel.Fprint(t.out, "you: ")
	case store.RoleAssistant:
		assistantLabel.Fprint(t.out, "assistant: ")
	}
}

// send records input on the active thread and streams the reply
func (t *terminal) send(ctx context.Context, input string) {
	t.printLabel(store.RoleAssistant)

	streamed := false
	reply, err := t.ctrl.SendMessage(ctx, t.sess, t.sess.ThreadID(), input, func(fragment string) {
		streamed = true
		fmt.Fprint(t.out, fragment)
	})
	if err != nil {
		if streamed {
			fmt.Fprintln(t.out)
		}
		if errors.Is(err, conversation.ErrCompletionFailed) {
			errorLabel.Fprintf(t.out, "[error] the assistant could not reply; your message was saved (%v)\n", err)
			return
		}
		errorLabel.Fprintf(t.out, "[error] %v\n", err)
		return
	}

	if !streamed {
		fmt.Fprint(t.out, reply.Content)
	}
	fmt.Fprintln(t.out)
}
