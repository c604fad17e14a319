package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore persists sessions in Redis. Server-side deployments that
// run many short-lived workers against one user identity can share a session
// this way instead of each worker holding its own refresh cycle.
type RedisSessionStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisSessionStore creates a SessionStore on the given Redis client.
// key namespaces the session; pass something stable per identity.
func NewRedisSessionStore(client *redis.Client, key string) *RedisSessionStore {
	if key == "" {
		key = sessionKey
	}
	return &RedisSessionStore{client: client, key: key, timeout: 5 * time.Second}
}

func (s *RedisSessionStore) Save(session Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	// Expire the key a day after the token expiry so a stale session never
	// lingers forever, while refreshes within the window keep it alive.
	ttl := time.Until(session.ExpiresAt) + 24*time.Hour
	if err := s.client.Set(ctx, s.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to persist session to redis: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Load() (*Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session from redis: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to decode persisted session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Delete() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}
