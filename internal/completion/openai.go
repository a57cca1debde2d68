// ABOUTME: Completion service backed by any OpenAI-compatible chat completions API
// ABOUTME: Uses go-openai for both whole replies and server-sent fragment streams

package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// OpenAI calls the chat completions endpoint of an OpenAI-compatible server.
type OpenAI struct {
	client       *openai.Client
	model        string
	stream       bool
	systemPrompt string
	maxTokens    int
	temperature  *float32
	timeout      time.Duration
	logger       *slog.Logger
}

// NewOpenAI creates an OpenAI completer from configuration. An empty
// BaseURL keeps the library default.
func NewOpenAI(cfg config.CompletionConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.Model,
		stream:       cfg.Stream,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
		logger:       slog.Default().With("component", "completion", "provider", "openai"),
	}
}

// Complete implements Service. The per-call timeout covers the whole
// stream and is released when the stream is closed.
func (o *OpenAI) Complete(ctx context.Context, history []store.Message) (*Response, error) {
	req, err := o.buildRequest(history)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
	}

	if o.stream {
		req.Stream = true
		stream, err := o.client.CreateChatCompletionStream(callCtx, req)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("starting completion stream: %w", err)
		}
		o.logger.Debug("completion stream started", "model", o.model, "messages", len(req.Messages))
		return &Response{Stream: &openAIStream{stream: stream, cancel: cancel}}, nil
	}

	defer cancel()
	resp, err := o.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("creating completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	o.logger.Debug("completion finished",
		"model", o.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	msg := store.AssistantMessage(resp.Choices[0].Message.Content)
	return &Response{Message: &msg}, nil
}

// buildRequest maps history onto chat messages, system prompt first.
func (o *OpenAI) buildRequest(history []store.Message) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if o.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}

	for _, m := range history {
		var role string
		switch m.Role {
		case store.RoleUser:
			role = openai.ChatMessageRoleUser
		case store.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return openai.ChatCompletionRequest{}, fmt.Errorf("unsupported role %q in history", m.Role)
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: o.maxTokens,
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}
	return req, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

// Recv returns the next non-empty content delta. Chunks without choices or
// content (role headers, finish markers) are skipped.
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			// io.EOF is passed through unwrapped
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	err := s.stream.Close()
	s.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Verify OpenAI implements Service at compile time.
var _ Service = (*OpenAI)(nil)
