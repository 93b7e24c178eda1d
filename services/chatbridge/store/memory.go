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
	"sync"
	"time"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

// MemoryStore is a process-local ConversationStore. Used by tests and by
// lightweight deployments that do not configure a database.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[int64]*datatypes.Conversation
	messages      map[int64][]datatypes.Message
	nextConvID    int64
	nextMsgID     int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int64]*datatypes.Conversation),
		messages:      make(map[int64][]datatypes.Message),
		nextConvID:    1,
		nextMsgID:     1,
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *datatypes.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv.ID = s.nextConvID
	s.nextConvID++
	if conv.Model == "" {
		conv.Model = datatypes.DefaultModel
	}
	conv.CreatedAt = now
	conv.UpdatedAt = now

	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id int64) (*datatypes.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := *conv
	return &out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *datatypes.Message) (*datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	now := time.Now().UTC()
	msg.ID = s.nextMsgID
	s.nextMsgID++
	msg.Index = len(s.messages[msg.ConversationID])
	msg.Timestamp = now

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv.UpdatedAt = now

	out := *msg
	return &out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID int64) ([]datatypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	msgs := s.messages[conversationID]
	out := make([]datatypes.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ ConversationStore = (*MemoryStore)(nil)
