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
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The contract tests run against every driver that can work without
// external services.
func testStores(t *testing.T) map[string]ConversationStore {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "chatbridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestCreateConversation_AssignsIDAndDefaults(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := &datatypes.Conversation{UserID: "user-1"}
			require.NoError(t, s.CreateConversation(ctx, conv))

			assert.NotZero(t, conv.ID)
			assert.Equal(t, datatypes.DefaultModel, conv.Model)
			assert.False(t, conv.CreatedAt.IsZero())

			got, err := s.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, "user-1", got.UserID)
		})
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetConversation(context.Background(), 99999)
			assert.ErrorIs(t, err, ErrConversationNotFound)
		})
	}
}

func TestAppendMessage_SequentialIndexes(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := &datatypes.Conversation{UserID: "user-1"}
			require.NoError(t, s.CreateConversation(ctx, conv))

			for i := 0; i < 3; i++ {
				role := datatypes.RoleUser
				if i%2 == 1 {
					role = datatypes.RoleAssistant
				}
				msg, err := s.AppendMessage(ctx, &datatypes.Message{
					ConversationID: conv.ID,
					Role:           role,
					Content:        "message",
				})
				require.NoError(t, err)
				assert.Equal(t, i, msg.Index)
				assert.NotZero(t, msg.ID)
			}

			msgs, err := s.ListMessages(ctx, conv.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			for i, m := range msgs {
				assert.Equal(t, i, m.Index)
			}
		})
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.AppendMessage(context.Background(), &datatypes.Message{
				ConversationID: 424242,
				Role:           datatypes.RoleUser,
				Content:        "hello",
			})
			assert.ErrorIs(t, err, ErrConversationNotFound)
		})
	}
}

func TestAppendMessage_BumpsUpdatedAt(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := &datatypes.Conversation{UserID: "user-1"}
			require.NoError(t, s.CreateConversation(ctx, conv))
			created := conv.UpdatedAt

			time.Sleep(20 * time.Millisecond)

			_, err := s.AppendMessage(ctx, &datatypes.Message{
				ConversationID: conv.ID,
				Role:           datatypes.RoleUser,
				Content:        "hello",
			})
			require.NoError(t, err)

			got, err := s.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.True(t, got.UpdatedAt.After(created),
				"updated_at %v should be after %v", got.UpdatedAt, created)
		})
	}
}

func TestListMessages_UnknownConversation(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ListMessages(context.Background(), 99999)
			assert.ErrorIs(t, err, ErrConversationNotFound)
		})
	}
}

func TestListMessages_EmptyConversation(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := &datatypes.Conversation{UserID: "user-1"}
			require.NoError(t, s.CreateConversation(ctx, conv))

			msgs, err := s.ListMessages(ctx, conv.ID)
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a := &datatypes.Conversation{UserID: "user-1"}
			b := &datatypes.Conversation{UserID: "user-2"}
			require.NoError(t, s.CreateConversation(ctx, a))
			require.NoError(t, s.CreateConversation(ctx, b))

			_, err := s.AppendMessage(ctx, &datatypes.Message{
				ConversationID: a.ID, Role: datatypes.RoleUser, Content: "in a",
			})
			require.NoError(t, err)

			// Indexes restart per conversation.
			msg, err := s.AppendMessage(ctx, &datatypes.Message{
				ConversationID: b.ID, Role: datatypes.RoleUser, Content: "in b",
			})
			require.NoError(t, err)
			assert.Equal(t, 0, msg.Index)

			msgs, err := s.ListMessages(ctx, b.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "in b", msgs[0].Content)
		})
	}
}
