// ABOUTME: Tests for completion services against a fake OpenAI-compatible server
// ABOUTME: Covers whole replies, streamed fragments, system prompts, echo replies and provider selection

package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI serves /v1/chat/completions and records the last request.
func fakeOpenAI(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) (*httptest.Server, *chatRequest) {
	t.Helper()
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handler(w, last)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`, content)
}

func writeStream(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	// role header chunk with no content
	fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant"}}]}`+"\n\n")
	for _, d := range deltas {
		fmt.Fprintf(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":%q}}]}`+"\n\n", d)
	}
	fmt.Fprint(w, `data: {"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func openAIConfig(baseURL string, stream bool) config.CompletionConfig {
	return config.CompletionConfig{
		Provider: config.ProviderOpenAI,
		Model:    "test-model",
		APIKey:   "sk-test",
		BaseURL:  baseURL + "/v1",
		Stream:   stream,
		Timeout:  5 * time.Second,
	}
}

func drain(t *testing.T, s Stream) []string {
	t.Helper()
	var out []string
	for {
		f, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, f)
	}
}

func TestOpenAI_WholeMessage(t *testing.T) {
	srv, last := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		writeCompletion(w, "Hi there")
	})

	o := NewOpenAI(openAIConfig(srv.URL, false))
	resp, err := o.Complete(context.Background(), []store.Message{store.UserMessage("Hello")})
	require.NoError(t, err)
	require.NotNil(t, resp.Message)
	assert.Nil(t, resp.Stream)
	assert.Equal(t, store.AssistantMessage("Hi there"), *resp.Message)

	assert.Equal(t, "test-model", last.Model)
	require.Len(t, last.Messages, 1)
	assert.Equal(t, "user", last.Messages[0].Role)
	assert.Equal(t, "Hello", last.Messages[0].Content)
}

func TestOpenAI_Stream(t *testing.T) {
	srv, last := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		writeStream(w, "Hel", "", "lo")
	})

	o := NewOpenAI(openAIConfig(srv.URL, true))
	resp, err := o.Complete(context.Background(), []store.Message{store.UserMessage("Hi")})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	assert.Nil(t, resp.Message)
	defer resp.Stream.Close()

	// empty deltas are skipped
	assert.Equal(t, []string{"Hel", "lo"}, drain(t, resp.Stream))
	assert.True(t, last.Stream)
}

func TestOpenAI_SystemPromptAndHistory(t *testing.T) {
	srv, last := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		writeCompletion(w, "ok")
	})

	cfg := openAIConfig(srv.URL, false)
	cfg.SystemPrompt = "Be brief."
	o := NewOpenAI(cfg)

	history := []store.Message{
		store.UserMessage("Hello"),
		store.AssistantMessage("Hi there"),
		store.UserMessage("Again"),
	}
	_, err := o.Complete(context.Background(), history)
	require.NoError(t, err)

	require.Len(t, last.Messages, 4)
	assert.Equal(t, "system", last.Messages[0].Role)
	assert.Equal(t, "Be brief.", last.Messages[0].Content)
	assert.Equal(t, "user", last.Messages[1].Role)
	assert.Equal(t, "assistant", last.Messages[2].Role)
	assert.Equal(t, "Again", last.Messages[3].Content)
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv, _ := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	})

	o := NewOpenAI(openAIConfig(srv.URL, false))
	_, err := o.Complete(context.Background(), []store.Message{store.UserMessage("Hi")})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestOpenAI_ServerError(t *testing.T) {
	srv, _ := fakeOpenAI(t, func(w http.ResponseWriter, _ chatRequest) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	for _, stream := range []bool{false, true} {
		o := NewOpenAI(openAIConfig(srv.URL, stream))
		_, err := o.Complete(context.Background(), []store.Message{store.UserMessage("Hi")})
		require.Error(t, err, "stream=%v", stream)
		assert.Contains(t, err.Error(), "boom")
	}
}

func TestOpenAI_RejectsUnknownRole(t *testing.T) {
	o := NewOpenAI(openAIConfig("http://127.0.0.1:0", false))
	_, err := o.Complete(context.Background(), []store.Message{{Role: "tool", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported role")
}

func TestEcho_WholeMessage(t *testing.T) {
	e := NewEcho(false)
	resp, err := e.Complete(context.Background(), []store.Message{store.UserMessage("ping")})
	require.NoError(t, err)
	require.NotNil(t, resp.Message)
	assert.Equal(t, store.RoleAssistant, resp.Message.Role)
	assert.Contains(t, resp.Message.Content, "Echo: **ping**")
}

func TestEcho_StreamConcatenatesToWholeReply(t *testing.T) {
	history := []store.Message{store.UserMessage("give me a list")}

	whole, err := NewEcho(false).Complete(context.Background(), history)
	require.NoError(t, err)

	streamed, err := NewEcho(true).Complete(context.Background(), history)
	require.NoError(t, err)
	require.NotNil(t, streamed.Stream)

	fragments := drain(t, streamed.Stream)
	assert.Greater(t, len(fragments), 1)
	assert.Equal(t, whole.Message.Content, strings.Join(fragments, ""))
}

func TestEcho_RequiresUserMessage(t *testing.T) {
	_, err := NewEcho(false).Complete(context.Background(), nil)
	assert.Error(t, err)
}

func TestEcho_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEcho(false).Complete(ctx, []store.Message{store.UserMessage("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticStream(t *testing.T) {
	s := NewStaticStream("a", "b")
	assert.Equal(t, []string{"a", "b"}, drain(t, s))

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	assert.True(t, s.Closed())
}

func TestNew(t *testing.T) {
	svc, err := New(config.CompletionConfig{Provider: config.ProviderEcho})
	require.NoError(t, err)
	assert.IsType(t, &Echo{}, svc)

	svc, err = New(config.CompletionConfig{Provider: config.ProviderOpenAI, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, svc)

	_, err = New(config.CompletionConfig{Provider: "llama"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
