// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides durable conversation and message storage.
//
// The streaming core treats this as an external collaborator: it only ever
// reads conversations and appends messages. Messages are append-only and
// index-ordered; nothing in this package updates or reorders an existing
// message, so concurrent sessions against the same conversation never race
// on a read-modify-write.
//
// Three drivers ship with the service:
//
//   - memory: process-local, for tests and lightweight mode
//   - sqlite: single-node durable storage (modernc.org/sqlite, no cgo)
//   - supabase: hosted Postgres via the PostgREST API
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

// ErrConversationNotFound is returned when the conversation id does not
// exist in the store.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore is the durable store contract the streaming core
// depends on.
type ConversationStore interface {
	// CreateConversation persists a new conversation and fills in its ID
	// and timestamps.
	CreateConversation(ctx context.Context, conv *datatypes.Conversation) error

	// GetConversation returns the conversation or ErrConversationNotFound.
	GetConversation(ctx context.Context, id int64) (*datatypes.Conversation, error)

	// AppendMessage appends a message to its conversation, assigning the
	// next per-conversation index, an id and a timestamp. It also bumps
	// the conversation's updated_at. Returns the stored message.
	AppendMessage(ctx context.Context, msg *datatypes.Message) (*datatypes.Message, error)

	// ListMessages returns the conversation's messages ordered by index.
	ListMessages(ctx context.Context, conversationID int64) ([]datatypes.Message, error)

	// Close releases driver resources.
	Close() error
}
