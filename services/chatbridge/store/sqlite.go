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
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/chatbridge/services/chatbridge/datatypes"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT 'New Conversation',
	model      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL REFERENCES conversations(id),
	msg_index       INTEGER NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	model           TEXT,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE(conversation_id, msg_index)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary creates) the database at path and
// applies the schema. WAL mode keeps concurrent HTTP appends and WebSocket
// history reads from blocking each other.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *datatypes.Conversation) error {
	now := time.Now().UTC()
	if conv.Model == "" {
		conv.Model = datatypes.DefaultModel
	}
	if conv.Title == "" {
		conv.Title = "New Conversation"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.UserID, conv.Title, conv.Model, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read conversation id: %w", err)
	}
	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*datatypes.Conversation, error) {
	var conv datatypes.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, model, created_at, updated_at
		 FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage runs in a transaction so the index assignment and the
// insert are atomic under concurrent appends to the same conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *datatypes.Message) (*datatypes.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrConversationNotFound
	}

	var index int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, msg.ConversationID).Scan(&index)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	now := time.Now().UTC()
	var model sql.NullString
	if msg.Model != "" {
		model = sql.NullString{String: msg.Model, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, msg_index, role, content, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, index, string(msg.Role), msg.Content, model, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	msg.ID = id
	msg.Index = index
	msg.Timestamp = now
	out := *msg
	return &out, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64) ([]datatypes.Message, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrConversationNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, msg_index, role, content, model, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY msg_index`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []datatypes.Message
	for rows.Next() {
		var m datatypes.Message
		var role string
		var model sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Index, &role, &m.Content, &model, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = datatypes.Role(role)
		if model.Valid {
			m.Model = model.String
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ ConversationStore = (*SQLiteStore)(nil)
