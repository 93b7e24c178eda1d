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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	return New(store, opts...)
}

func TestCreateAndConsume(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Create(ctx, 42, "user-1", 7, "gpt-4.1-nano")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := b.Consume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, int64(42), sess.ConversationID)
	assert.Equal(t, "user-1", sess.OwnerUserID)
	assert.Equal(t, int64(7), sess.PromptMessageID)
	assert.Equal(t, "gpt-4.1-nano", sess.Model)
	assert.Equal(t, StateConsumed, sess.State)
}

func TestConsume_UnknownID(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Consume(context.Background(), "no-such-session")

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsume_SecondAttemptLoses(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	_, err = b.Consume(ctx, id)
	require.NoError(t, err)

	_, err = b.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsume_ExactlyOnceUnderConcurrency(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	const attempts = 64
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Consume(ctx, id)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrSessionNotFound)
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one consumer must win")
	assert.Equal(t, attempts-1, losses)
}

func TestConsume_Expired(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(t, WithTTL(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = b.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// The expired session was deleted; presenting it again is not-found.
	_, err = b.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestConsume_JustBeforeExpiry(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(t, WithTTL(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	clock.Advance(time.Minute) // now == ExpiresAt, not yet past it

	_, err = b.Consume(ctx, id)
	assert.NoError(t, err)
}

func TestReapOnce(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(t, WithTTL(time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Create(ctx, int64(i+1), "user-1", 1, "gpt-4o")
		require.NoError(t, err)
	}

	pending, err := b.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	clock.Advance(2 * time.Minute)
	b.ReapOnce(ctx)

	pending, err = b.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestReapOnce_LeavesUnexpired(t *testing.T) {
	clock := newFakeClock()
	b := newTestBroker(t, WithTTL(time.Hour), WithClock(clock.Now))
	ctx := context.Background()

	_, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	b.ReapOnce(ctx)

	pending, err := b.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestMarkCompleted_DiscardsSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	_, err = b.Consume(ctx, id)
	require.NoError(t, err)

	b.MarkCompleted(ctx, id)

	_, err = b.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMarkFailed_DiscardsSession(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Create(ctx, 1, "user-1", 1, "gpt-4o")
	require.NoError(t, err)

	_, err = b.Consume(ctx, id)
	require.NoError(t, err)

	b.MarkFailed(ctx, id, "client disconnected")

	_, err = b.Consume(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestNewSessionID_UniqueAndOpaque(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := newSessionID()
		require.NoError(t, err)
		assert.False(t, seen[id], "session ids must not repeat")
		seen[id] = true
		// 24 raw bytes encode to 32 base64url characters.
		assert.Len(t, id, 32)
	}
}

func TestNewStore_InvalidType(t *testing.T) {
	_, err := NewStore(StoreType("etcd"))
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func TestNewStore_RedisRequiresClient(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", TruncateID("short"))
	assert.Equal(t, "abcdefgh...", TruncateID("abcdefghijklmnop"))
}
