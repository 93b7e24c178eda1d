// Package llm provides the upstream completion provider abstraction for
// chatbridge. A provider turns a conversation history into a lazy, finite,
// cancellable stream of normalized events; the streaming gateway consumes
// exactly one stream per WebSocket connection.
package llm

import (
	"context"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

// StreamEventType enumerates the normalized events a provider emits.
type StreamEventType int

const (
	// StreamEventDelta carries one incremental unit of assistant text.
	StreamEventDelta StreamEventType = iota
	// StreamEventError reports an upstream failure. Terminal: the events
	// channel is closed after it.
	StreamEventError
	// StreamEventDone marks normal end of generation. Terminal.
	StreamEventDone
)

// StreamEvent is one normalized event from the upstream provider.
// Providers translate their wire-specific chunk and error shapes into this
// vocabulary; malformed provider frames surface as StreamEventError, never
// as raw parse panics.
type StreamEvent struct {
	Type    StreamEventType
	Content string // set for StreamEventDelta
	Err     error  // set for StreamEventError
}

// CompletionStream is a handle on one in-flight generation.
//
// Events yields deltas in provider order, then exactly one terminal event
// (Done or Error), then closes. Cancel stops further delivery within a
// bounded time and releases the underlying transport; it is safe to call
// concurrently with reads and more than once.
type CompletionStream struct {
	events <-chan StreamEvent
	cancel context.CancelFunc
}

// NewCompletionStream wraps an event channel and cancel function. Intended
// for provider implementations and test stubs.
func NewCompletionStream(events <-chan StreamEvent, cancel context.CancelFunc) *CompletionStream {
	return &CompletionStream{events: events, cancel: cancel}
}

// Events returns the ordered event channel.
func (s *CompletionStream) Events() <-chan StreamEvent {
	return s.events
}

// Cancel aborts the generation and frees upstream resources.
func (s *CompletionStream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// CompletionProvider starts streamed completions against an upstream model.
//
// Stream sends the full history with every request; context-length
// rejections from the provider come back as StreamEventError, not as a
// truncation fallback. An error return means the stream could not be
// started at all (no events were or will be emitted).
type CompletionProvider interface {
	Stream(ctx context.Context, model string, history []datatypes.Message) (*CompletionStream, error)
}
