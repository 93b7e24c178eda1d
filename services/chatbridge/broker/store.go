// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broker issues, tracks and atomically consumes one-time stream
// sessions: the capability tokens that bind an HTTP "send message" call to
// the single WebSocket connection allowed to deliver its response.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SessionState enumerates the stream session lifecycle.
//
// Transitions: pending → consumed → completed | failed, and
// pending → expired via the TTL. completed, failed and expired are
// terminal; terminal sessions are discarded, not archived.
type SessionState string

const (
	StatePending   SessionState = "pending"
	StateConsumed  SessionState = "consumed"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateExpired   SessionState = "expired"
)

// StreamSession binds a persisted user message to a future WebSocket
// connection. The id is the bearer capability: possession is
// authorization, and it is never revalidated against the original token.
type StreamSession struct {
	ID              string       `json:"id"`
	ConversationID  int64        `json:"conversation_id"`
	OwnerUserID     string       `json:"owner_user_id"`
	PromptMessageID int64        `json:"prompt_message_id"`
	Model           string       `json:"model"`
	State           SessionState `json:"state"`
	FailureReason   string       `json:"failure_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
}

var (
	// ErrSessionNotFound covers unknown ids, already-consumed ids and
	// reaped ids. Losers of a concurrent consume race see this error.
	ErrSessionNotFound = errors.New("stream session not found")

	// ErrSessionExpired is returned when the session still exists but its
	// TTL elapsed before consumption.
	ErrSessionExpired = errors.New("stream session expired")

	// ErrInvalidStoreType is returned by the factory for unknown drivers.
	ErrInvalidStoreType = errors.New("invalid session store type")

	// ErrInvalidConfig is returned when a driver's required options are
	// missing.
	ErrInvalidConfig = errors.New("invalid session store configuration")
)

// SessionStore holds pending and consumed sessions.
//
// Consume is the contended operation and must be atomic: under concurrent
// callers presenting the same id, exactly one wins and the rest get
// ErrSessionNotFound.
type SessionStore interface {
	// Put stores a new session.
	Put(ctx context.Context, sess *StreamSession) error

	// Consume atomically checks existence and expiry and, only if the
	// session is pending and unexpired, flips it to consumed and returns
	// a copy. An expired session is deleted and ErrSessionExpired
	// returned; any other miss is ErrSessionNotFound.
	Consume(ctx context.Context, id string, now time.Time) (*StreamSession, error)

	// Finish applies a terminal state and discards the session. Applying
	// a terminal state to a missing session is a no-op.
	Finish(ctx context.Context, id string, state SessionState, reason string) error

	// ReapExpired removes pending sessions whose deadline has passed,
	// returning how many were reaped.
	ReapExpired(ctx context.Context, now time.Time) (int, error)

	// PendingCount reports how many sessions are currently pending.
	PendingCount(ctx context.Context) (int, error)

	// Close releases driver resources.
	Close() error
}

// StoreType selects the session store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// NewStore creates a SessionStore for the given driver. Redis requires
// WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (SessionStore, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemorySessionStore(), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisSessionStore(cfg.redisClient, cfg.redisKeyPrefix), nil
	default:
		return nil, ErrInvalidStoreType
	}
}

// memorySessionStore is the default single-process driver: one
// mutex-guarded map, the only contended shared state in the core.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*StreamSession
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*StreamSession)}
}

func (s *memorySessionStore) Put(_ context.Context, sess *StreamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *sess
	s.sessions[sess.ID] = &stored
	return nil
}

func (s *memorySessionStore) Consume(_ context.Context, id string, now time.Time) (*StreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.State != StatePending {
		return nil, ErrSessionNotFound
	}
	if now.After(sess.ExpiresAt) {
		// Unusable from here on even if presented again.
		delete(s.sessions, id)
		return nil, ErrSessionExpired
	}

	sess.State = StateConsumed
	out := *sess
	return &out, nil
}

func (s *memorySessionStore) Finish(_ context.Context, id string, state SessionState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.State = state
	sess.FailureReason = reason
	delete(s.sessions, id)
	return nil
}

func (s *memorySessionStore) ReapExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for id, sess := range s.sessions {
		if sess.State == StatePending && now.After(sess.ExpiresAt) {
			sess.State = StateExpired
			delete(s.sessions, id)
			reaped++
		}
	}
	return reaped, nil
}

func (s *memorySessionStore) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.State == StatePending {
			count++
		}
	}
	return count, nil
}

func (s *memorySessionStore) Close() error { return nil }

var _ SessionStore = (*memorySessionStore)(nil)
