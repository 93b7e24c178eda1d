// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/chatbridge/services/chatbridge/observability"
)

const (
	// DefaultSessionTTL bounds how long a client has between receiving a
	// ws_url and opening the socket.
	DefaultSessionTTL = 5 * time.Minute

	// DefaultReapInterval is how often abandoned pending sessions are
	// swept.
	DefaultReapInterval = 30 * time.Second

	// sessionIDBytes sizes the random session id. 24 bytes gives 192 bits
	// of entropy; the id is the sole credential for the stream socket.
	sessionIDBytes = 24
)

// Broker issues and consumes one-time stream sessions.
//
// All state lives in the SessionStore; the broker itself is stateless and
// safe for concurrent use by HTTP and WebSocket handlers.
type Broker struct {
	store        SessionStore
	ttl          time.Duration
	reapInterval time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithTTL overrides the session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) { b.ttl = ttl }
}

// WithReapInterval overrides the reaper period.
func WithReapInterval(interval time.Duration) Option {
	return func(b *Broker) { b.reapInterval = interval }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// New creates a broker over the given store.
func New(store SessionStore, opts ...Option) *Broker {
	b := &Broker{
		store:        store,
		ttl:          DefaultSessionTTL,
		reapInterval: DefaultReapInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create issues a fresh pending session for an already-persisted user
// message and returns its id. The only failure mode is store
// unavailability, which is propagated as-is for the chat endpoint to
// surface as a hard failure.
func (b *Broker) Create(ctx context.Context, conversationID int64, userID string,
	promptMessageID int64, model string) (string, error) {

	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	now := b.now().UTC()
	sess := &StreamSession{
		ID:              id,
		ConversationID:  conversationID,
		OwnerUserID:     userID,
		PromptMessageID: promptMessageID,
		Model:           model,
		State:           StatePending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(b.ttl),
	}
	if err := b.store.Put(ctx, sess); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	observability.DefaultMetrics.RecordSession("created")
	slog.Info("Stream session created",
		"sessionID", TruncateID(id),
		"conversationID", conversationID,
		"model", model,
		"expiresAt", sess.ExpiresAt,
	)
	return id, nil
}

// Consume atomically claims the session. Exactly one caller wins for any
// id; losers get ErrSessionNotFound and expired sessions get
// ErrSessionExpired. Failures are not retried here: the gateway decides
// what to tell the client.
func (b *Broker) Consume(ctx context.Context, id string) (*StreamSession, error) {
	sess, err := b.store.Consume(ctx, id, b.now().UTC())
	if err != nil {
		return nil, err
	}
	observability.DefaultMetrics.RecordSession("consumed")
	slog.Info("Stream session consumed",
		"sessionID", TruncateID(id),
		"conversationID", sess.ConversationID,
	)
	return sess, nil
}

// MarkCompleted records a successful terminal transition and discards the
// session. Observability-only: the session can no longer be consumed
// regardless.
func (b *Broker) MarkCompleted(ctx context.Context, id string) {
	if err := b.store.Finish(ctx, id, StateCompleted, ""); err != nil {
		slog.Warn("Failed to mark session completed", "sessionID", TruncateID(id), "error", err)
		return
	}
	observability.DefaultMetrics.RecordSession("completed")
}

// MarkFailed records a failed terminal transition and discards the session.
func (b *Broker) MarkFailed(ctx context.Context, id string, reason string) {
	if err := b.store.Finish(ctx, id, StateFailed, reason); err != nil {
		slog.Warn("Failed to mark session failed", "sessionID", TruncateID(id), "error", err)
		return
	}
	observability.DefaultMetrics.RecordSession("failed")
	slog.Info("Stream session failed", "sessionID", TruncateID(id), "reason", reason)
}

// PendingCount reports the current pending-session population.
func (b *Broker) PendingCount(ctx context.Context) (int, error) {
	return b.store.PendingCount(ctx)
}

// Run sweeps abandoned pending sessions until ctx is cancelled. Intended
// to run as a background goroutine alongside the HTTP server.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.reapOnce(ctx)
		}
	}
}

// ReapOnce runs a single reaper pass. Exposed for tests.
func (b *Broker) ReapOnce(ctx context.Context) {
	b.reapOnce(ctx)
}

func (b *Broker) reapOnce(ctx context.Context) {
	reaped, err := b.store.ReapExpired(ctx, b.now().UTC())
	if err != nil {
		slog.Warn("Session reaper pass failed", "error", err)
		return
	}
	if reaped > 0 {
		observability.DefaultMetrics.RecordSessions("expired", reaped)
		slog.Info("Reaped expired stream sessions", "count", reaped)
	}
}

// newSessionID returns a URL-safe random id with 192 bits of entropy.
func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TruncateID shortens a session id for logging. The full id is a bearer
// capability and must never be written to logs.
func TruncateID(id string) string {
	const visible = 8
	if len(id) <= visible {
		return id
	}
	return id[:visible] + "..."
}
