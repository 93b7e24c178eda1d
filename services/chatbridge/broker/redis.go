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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "chatbridge:session:"

// redisExpiryGrace keeps an expired-but-unconsumed session around briefly
// so a late connect gets the distinct "expired" answer instead of a
// generic not-found.
const redisExpiryGrace = time.Minute

// consumeScript performs the pending→consumed compare-and-swap server-side
// so that concurrent connects racing on the same id resolve atomically.
// Returns: {0} missing, {1, json} consumed, {2} expired (key deleted).
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {0}
end
local sess = cjson.decode(raw)
if sess.state ~= 'pending' then
	return {0}
end
if tonumber(ARGV[1]) > tonumber(sess.expires_at_unix) then
	redis.call('DEL', KEYS[1])
	return {2}
end
sess.state = 'consumed'
local updated = cjson.encode(sess)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')
return {1, updated}
`)

// redisSessionRecord is the JSON payload stored per session. ExpiresAt is
// duplicated as a unix timestamp so the consume script can compare it
// without parsing RFC3339.
type redisSessionRecord struct {
	StreamSession
	ExpiresAtUnix int64 `json:"expires_at_unix"`
}

// redisSessionStore shares the pending-session table across service
// replicas. Key TTLs bound memory growth even if the reaper never runs.
type redisSessionStore struct {
	client *redis.Client
	prefix string
}

func newRedisSessionStore(client *redis.Client, prefix string) *redisSessionStore {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &redisSessionStore{client: client, prefix: prefix}
}

func (s *redisSessionStore) key(id string) string {
	return s.prefix + id
}

func (s *redisSessionStore) Put(ctx context.Context, sess *StreamSession) error {
	record := redisSessionRecord{
		StreamSession: *sess,
		ExpiresAtUnix: sess.ExpiresAt.Unix(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt) + redisExpiryGrace
	if ttl <= 0 {
		ttl = redisExpiryGrace
	}
	if err := s.client.Set(ctx, s.key(sess.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *redisSessionStore) Consume(ctx context.Context, id string, now time.Time) (*StreamSession, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(id)}, now.Unix()).Slice()
	if err != nil {
		return nil, fmt.Errorf("consume script failed: %w", err)
	}
	code, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected consume script result %v", res[0])
	}

	switch code {
	case 0:
		return nil, ErrSessionNotFound
	case 2:
		return nil, ErrSessionExpired
	case 1:
		raw, ok := res[1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected consume script payload %v", res[1])
		}
		var record redisSessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sess := record.StreamSession
		return &sess, nil
	default:
		return nil, fmt.Errorf("unexpected consume script code %d", code)
	}
}

func (s *redisSessionStore) Finish(ctx context.Context, id string, _ SessionState, _ string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ReapExpired is a no-op for Redis: key TTLs already evict abandoned
// sessions server-side.
func (s *redisSessionStore) ReapExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *redisSessionStore) PendingCount(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read session: %w", err)
		}
		var record redisSessionRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		if record.State == StatePending {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("session scan failed: %w", err)
	}
	return count, nil
}

func (s *redisSessionStore) Close() error {
	return s.client.Close()
}

var _ SessionStore = (*redisSessionStore)(nil)
