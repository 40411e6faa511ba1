// Package redisstore keeps step checkpoints in Redis so a redelivered event
// resumes on any worker.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Store holds one Redis hash per event, field per step, expiring after TTL.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "orderflow"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(eventID string) string {
	return fmt.Sprintf("%s:checkpoint:%s", s.prefix, eventID)
}

func (s *Store) Load(ctx context.Context, eventID, step string) ([]byte, bool, error) {
	value, err := s.client.HGet(ctx, s.key(eventID), step).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s: %w", eventID, err)
	}
	return value, true, nil
}

func (s *Store) Save(ctx context.Context, eventID, step string, value []byte) error {
	key := s.key(eventID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, step, value)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis hset %s: %w", eventID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.key(eventID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", eventID, err)
	}
	return nil
}

// Ping checks connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
