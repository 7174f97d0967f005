// Package session provides Redis-backed storage for edit sessions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("edit session not found or expired")

// EditSession is the scratchpad identity behind a token: who is drafting,
// inside which workspace and branch, and on behalf of which fix request.
// Versions tagged with the session id stay invisible to everyone else.
type EditSession struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspace_id"`
	BranchID     string    `json:"branch_id"`
	UserID       string    `json:"user_id"`
	FixRequestID string    `json:"fix_request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisStore implements edit session storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "editsession:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// SaveEditSession stores the session under its token with the store's TTL.
func (s *RedisStore) SaveEditSession(ctx context.Context, token string, sess EditSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	jsonData, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal edit session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save edit session: %w", err)
	}
	return nil
}

// LookupEditSession resolves a token. Each successful lookup refreshes the
// TTL so an active drafting session stays alive.
func (s *RedisStore) LookupEditSession(ctx context.Context, token string) (EditSession, error) {
	key := s.key(token)
	jsonData, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return EditSession{}, ErrNotFound
	}
	if err != nil {
		return EditSession{}, fmt.Errorf("lookup edit session: %w", err)
	}

	var sess EditSession
	if err := json.Unmarshal([]byte(jsonData), &sess); err != nil {
		return EditSession{}, fmt.Errorf("unmarshal edit session: %w", err)
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return sess, nil
}

// RevokeEditSession deletes a session token.
func (s *RedisStore) RevokeEditSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke edit session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
