// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

// SupabaseStore is a ConversationStore backed by hosted Postgres through
// the Supabase PostgREST API.
//
// Index assignment is count-then-insert, the same discipline the rest of
// the application uses; the unique (conversation_id, msg_index) constraint
// in the schema rejects the rare concurrent collision, which surfaces to
// the caller as an append failure.
type SupabaseStore struct {
	client *supabase.Client
}

// SupabaseConfig holds the connection settings for a Supabase project.
type SupabaseConfig struct {
	URL    string
	APIKey string
}

// NewSupabaseStore creates a store for the given project.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// conversationRow mirrors the conversations table.
type conversationRow struct {
	ID        int64     `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// messageRow mirrors the messages table.
type messageRow struct {
	ID             int64     `json:"id,omitempty"`
	ConversationID int64     `json:"conversation_id"`
	Index          int       `json:"msg_index"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

func (s *SupabaseStore) CreateConversation(_ context.Context, conv *datatypes.Conversation) error {
	if conv.Model == "" {
		conv.Model = datatypes.DefaultModel
	}
	if conv.Title == "" {
		conv.Title = "New Conversation"
	}
	now := time.Now().UTC()

	var inserted []conversationRow
	_, err := s.client.From("conversations").
		Insert(conversationRow{
			UserID:    conv.UserID,
			Title:     conv.Title,
			Model:     conv.Model,
			CreatedAt: now,
			UpdatedAt: now,
		}, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	if len(inserted) == 0 {
		return fmt.Errorf("insert returned no conversation row")
	}
	conv.ID = inserted[0].ID
	conv.CreatedAt = inserted[0].CreatedAt
	conv.UpdatedAt = inserted[0].UpdatedAt
	return nil
}

func (s *SupabaseStore) GetConversation(_ context.Context, id int64) (*datatypes.Conversation, error) {
	var rows []conversationRow
	_, err := s.client.From("conversations").
		Select("*", "", false).
		Eq("id", strconv.FormatInt(id, 10)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrConversationNotFound
	}
	r := rows[0]
	return &datatypes.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Model:     r.Model,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *SupabaseStore) AppendMessage(ctx context.Context, msg *datatypes.Message) (*datatypes.Message, error) {
	if _, err := s.GetConversation(ctx, msg.ConversationID); err != nil {
		return nil, err
	}

	existing, err := s.ListMessages(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var inserted []messageRow
	_, err = s.client.From("messages").
		Insert(messageRow{
			ConversationID: msg.ConversationID,
			Index:          len(existing),
			Role:           string(msg.Role),
			Content:        msg.Content,
			Model:          msg.Model,
			CreatedAt:      now,
		}, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	if len(inserted) == 0 {
		return nil, fmt.Errorf("insert returned no message row")
	}

	_, _, err = s.client.From("conversations").
		Update(map[string]any{"updated_at": now}, "", "").
		Eq("id", strconv.FormatInt(msg.ConversationID, 10)).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	msg.ID = inserted[0].ID
	msg.Index = inserted[0].Index
	msg.Timestamp = inserted[0].CreatedAt
	out := *msg
	return &out, nil
}

func (s *SupabaseStore) ListMessages(_ context.Context, conversationID int64) ([]datatypes.Message, error) {
	var rows []messageRow
	_, err := s.client.From("messages").
		Select("*", "", false).
		Eq("conversation_id", strconv.FormatInt(conversationID, 10)).
		Order("msg_index", nil).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	msgs := make([]datatypes.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, datatypes.Message{
			ID:             r.ID,
			ConversationID: r.ConversationID,
			Index:          r.Index,
			Role:           datatypes.Role(r.Role),
			Content:        r.Content,
			Model:          r.Model,
			Timestamp:      r.CreatedAt,
		})
	}
	return msgs, nil
}

func (s *SupabaseStore) Close() error { return nil }

var _ ConversationStore = (*SupabaseStore)(nil)
