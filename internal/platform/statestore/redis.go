package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "surgiform:session:"

// RedisStore keeps each session in one hash whose fields are the state
// keys. The hash expiry is refreshed on every write.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore wraps client. A zero TTL leaves sessions without expiry.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func sessionKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string, key Key) ([]byte, error) {
	if err := checkRead(key); err != nil {
		return nil, err
	}
	value, err := s.client.HGet(ctx, sessionKey(sessionID), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s for session %s: %w", key, sessionID, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, key Key, value []byte) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}
	hk := sessionKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hk, string(key), value)
		if s.ttl > 0 {
			pipe.Expire(ctx, hk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s for session %s: %w", key, sessionID, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}
