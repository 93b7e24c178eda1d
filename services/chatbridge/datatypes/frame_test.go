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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFrameMarshal(t *testing.T) {
	tests := []struct {
		name  string
		frame StreamFrame
		want  string
	}{
		{"content", ContentFrame("Hello"), `{"content":"Hello"}`},
		{"empty content delta", ContentFrame(""), `{"content":""}`},
		{"error", ErrorFrame("something broke"), `{"error":"something broke"}`},
		{"ended", EndedFrame(), `{"event":"chat_ended"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.frame)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestStreamFrameMarshal_UnknownKind(t *testing.T) {
	_, err := json.Marshal(StreamFrame{Kind: FrameKind("bogus"), Text: "x"})
	assert.Error(t, err)
}

func TestStreamFrameUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		data string
		want StreamFrame
	}{
		{"content", `{"content":"chunk"}`, ContentFrame("chunk")},
		{"error", `{"error":"boom"}`, ErrorFrame("boom")},
		{"ended", `{"event":"chat_ended"}`, EndedFrame()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frame StreamFrame
			require.NoError(t, json.Unmarshal([]byte(tt.data), &frame))
			assert.Equal(t, tt.want, frame)
		})
	}
}

func TestStreamFrameUnmarshal_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no recognized key", `{"payload":"x"}`},
		{"empty object", `{}`},
		{"two recognized keys", `{"content":"x","error":"y"}`},
		{"recognized key plus unknown key", `{"content":"x","meta":"y"}`},
		{"not an object", `"content"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var frame StreamFrame
			assert.Error(t, json.Unmarshal([]byte(tt.data), &frame))
		})
	}
}
