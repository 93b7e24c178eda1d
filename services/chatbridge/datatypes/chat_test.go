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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{
			name: "valid request",
			req:  ChatRequest{ConversationID: 1, Content: "hello"},
		},
		{
			name: "valid with model",
			req:  ChatRequest{ConversationID: 1, Content: "hello", Model: "gpt-4o"},
		},
		{
			name:    "missing conversation id",
			req:     ChatRequest{Content: "hello"},
			wantErr: true,
		},
		{
			name:    "negative conversation id",
			req:     ChatRequest{ConversationID: -1, Content: "hello"},
			wantErr: true,
		},
		{
			name:    "empty content",
			req:     ChatRequest{ConversationID: 1, Content: ""},
			wantErr: true,
		},
		{
			name:    "whitespace-only content",
			req:     ChatRequest{ConversationID: 1, Content: "   \n\t  "},
			wantErr: true,
		},
		{
			name: "content at limit",
			req:  ChatRequest{ConversationID: 1, Content: strings.Repeat("a", MaxMessageContentBytes)},
		},
		{
			name:    "content over limit",
			req:     ChatRequest{ConversationID: 1, Content: strings.Repeat("a", MaxMessageContentBytes+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatRequestValidate_TrimsContent(t *testing.T) {
	req := ChatRequest{ConversationID: 1, Content: "  hello world  \n"}

	assert.NoError(t, req.Validate())
	assert.Equal(t, "hello world", req.Content)
}

func TestChatRequestValidate_ByteLimitNotRunes(t *testing.T) {
	// Multi-byte runes: the cap is on encoded bytes.
	content := strings.Repeat("世", MaxMessageContentBytes/3+1)
	req := ChatRequest{ConversationID: 1, Content: content}

	assert.Error(t, req.Validate())
}

func TestIsValidModel(t *testing.T) {
	for _, m := range AvailableModels {
		assert.True(t, IsValidModel(m), m)
	}
	assert.True(t, IsValidModel(DefaultModel), "default model must be accepted")
	assert.False(t, IsValidModel("gpt-9000"))
	assert.False(t, IsValidModel(""))
}
