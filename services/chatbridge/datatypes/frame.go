// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"
)

// FrameKind discriminates the closed set of frames the gateway sends over
// a stream WebSocket. Every frame is exactly one of these; clients never
// have to sniff field shapes.
type FrameKind string

const (
	// FrameContent carries one ordered delta of assistant output.
	FrameContent FrameKind = "content"
	// FrameError carries a problem description. It may be terminal
	// (upstream failure) or follow delivered content (persistence failure).
	FrameError FrameKind = "error"
	// FrameEnded marks successful completion. No frames follow it.
	FrameEnded FrameKind = "event"
)

// EventChatEnded is the only event value currently emitted.
const EventChatEnded = "chat_ended"

// StreamFrame is the tagged union sent to WebSocket clients. On the wire
// it serializes as a single-key object: {"content": ...}, {"error": ...}
// or {"event": "chat_ended"}.
type StreamFrame struct {
	Kind FrameKind
	Text string
}

// ContentFrame wraps one assistant output delta.
func ContentFrame(delta string) StreamFrame {
	return StreamFrame{Kind: FrameContent, Text: delta}
}

// ErrorFrame wraps a client-facing problem description.
func ErrorFrame(msg string) StreamFrame {
	return StreamFrame{Kind: FrameError, Text: msg}
}

// EndedFrame is the terminal success frame.
func EndedFrame() StreamFrame {
	return StreamFrame{Kind: FrameEnded, Text: EventChatEnded}
}

// MarshalJSON serializes the frame as a single-key object keyed by Kind.
func (f StreamFrame) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FrameContent, FrameError, FrameEnded:
		return json.Marshal(map[string]string{string(f.Kind): f.Text})
	default:
		return nil, fmt.Errorf("unknown frame kind %q", f.Kind)
	}
}

// UnmarshalJSON parses a single-key frame object. Anything other than
// exactly one recognized key is rejected, unknown extra keys included.
func (f *StreamFrame) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("frame must contain exactly one key, got %d", len(raw))
	}
	for _, kind := range []FrameKind{FrameContent, FrameError, FrameEnded} {
		if text, ok := raw[string(kind)]; ok {
			f.Kind = kind
			f.Text = text
			return nil
		}
	}
	return fmt.Errorf("frame key must be one of content/error/event")
}
