package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

// OpenAIProvider streams chat completions from the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider reads the API key from OPENAI_API_KEY or, failing that,
// from the container secret mount.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API key from the secret mount")
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey)}, nil
}

// NewOpenAIProviderWithConfig creates a provider from an explicit client
// config. Used by tests to point at a local stub server.
func NewOpenAIProviderWithConfig(cfg openai.ClientConfig) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Stream opens a streamed chat completion for the given model and history.
//
// The returned stream's Cancel aborts the request context, which closes the
// underlying HTTP response body and stops the reader goroutine; no tokens
// are delivered after cancellation beyond the one already in flight.
func (p *OpenAIProvider) Stream(ctx context.Context, model string,
	history []datatypes.Message) (*CompletionStream, error) {

	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	streamCtx, cancel := context.WithCancel(ctx)
	upstream, err := p.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}

	events := make(chan StreamEvent)
	go relayOpenAIStream(streamCtx, upstream, events)

	return NewCompletionStream(events, cancel), nil
}

// relayOpenAIStream pumps upstream chunks into the normalized event
// channel. It owns both the upstream handle and the channel: the channel is
// closed exactly once, after a terminal event, and the upstream connection
// is released on every exit path.
func relayOpenAIStream(ctx context.Context, upstream *openai.ChatCompletionStream,
	events chan<- StreamEvent) {

	defer close(events)
	defer upstream.Close()

	for {
		chunk, err := upstream.Recv()
		if errors.Is(err, io.EOF) {
			emit(ctx, events, StreamEvent{Type: StreamEventDone})
			return
		}
		if err != nil {
			// Cancellation is not an upstream fault; the consumer is gone
			// and nobody reads the event anyway.
			if ctx.Err() != nil {
				return
			}
			emit(ctx, events, StreamEvent{Type: StreamEventError, Err: err})
			return
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if !emit(ctx, events, StreamEvent{Type: StreamEventDelta, Content: chunk.Choices[0].Delta.Content}) {
			return
		}
	}
}

// emit sends an event unless the stream context is cancelled. Returns false
// when the consumer has gone away.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ CompletionProvider = (*OpenAIProvider)(nil)
