// Package redisstore is a Redis-backed MessageStorage, the one non-memory
// storage backend this module ships: message history for a thread is kept as
// a Redis list of JSON-encoded messages, so it survives process restarts
// without pulling in a full database driver. ThreadStorage and
// AgentRunStorage are intentionally left to the inmem package: a run and its
// thread record live only as long as the process driving the Agent Run Loop,
// and duplicating the Redis wiring for them would not exercise any interface
// surface the message list doesn't already cover.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentcore/core/message"
)

// Store is a Redis-backed MessageStorage.
type Store struct {
	rdb *redis.Client
	// TTL, if non-zero, is applied to a thread's message list key every time
	// a message is appended, so idle threads expire instead of accumulating
	// forever.
	TTL time.Duration
}

// New wraps an existing Redis client. ttl of zero disables expiry.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, TTL: ttl}
}

func key(threadID string) string {
	return fmt.Sprintf("agentcore:thread:%s:messages", threadID)
}

// AppendMessage pushes msg onto the thread's Redis list and refreshes the
// list's TTL if one was configured.
func (s *Store) AppendMessage(ctx context.Context, msg message.Message) (message.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return message.Message{}, fmt.Errorf("redisstore: encode message: %w", err)
	}
	k := key(msg.ThreadID)
	if err := s.rdb.RPush(ctx, k, encoded).Err(); err != nil {
		return message.Message{}, fmt.Errorf("redisstore: rpush: %w", err)
	}
	if s.TTL > 0 {
		if err := s.rdb.Expire(ctx, k, s.TTL).Err(); err != nil {
			return message.Message{}, fmt.Errorf("redisstore: expire: %w", err)
		}
	}
	return msg, nil
}

// ListMessages returns a thread's messages in chronological order, the most
// recent limit of them if limit > 0.
func (s *Store) ListMessages(ctx context.Context, threadID string, limit int) ([]message.Message, error) {
	k := key(threadID)
	start := int64(0)
	if limit > 0 {
		length, err := s.rdb.LLen(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: llen: %w", err)
		}
		if length > int64(limit) {
			start = length - int64(limit)
		}
	}
	raw, err := s.rdb.LRange(ctx, k, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: lrange: %w", err)
	}
	out := make([]message.Message, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &out[i]); err != nil {
			return nil, fmt.Errorf("redisstore: decode message: %w", err)
		}
	}
	return out, nil
}
