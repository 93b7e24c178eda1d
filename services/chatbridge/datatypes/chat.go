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

	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes caps a single user message. Checked in bytes, not
// runes, to bound memory regardless of encoding.
const MaxMessageContentBytes = 32 * 1024 // 32KB

// chatValidate is the shared validator for chat request types.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// ChatRequest is the body of POST /v1/chat.
//
// Model is optional; when empty the conversation's configured model is
// used. Content must be non-empty after trimming.
type ChatRequest struct {
	ConversationID int64  `json:"conversation_id" validate:"required,gt=0"`
	Content        string `json:"content" validate:"required,maxbytes"`
	Model          string `json:"model,omitempty"`
}

// Validate trims the content in place and checks structural constraints.
func (r *ChatRequest) Validate() error {
	r.Content = strings.TrimSpace(r.Content)
	return chatValidate.Struct(r)
}

// ChatResponse is the body returned by POST /v1/chat on success. The URL
// embeds the one-time stream session id and is itself a secret.
type ChatResponse struct {
	WSURL string `json:"ws_url"`
}
