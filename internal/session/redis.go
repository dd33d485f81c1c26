package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token under a namespaced key so several MCP server
// replicas can share one login. Keys have no TTL: the backend models no expiry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store for the given account namespace.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("storefront:session:%s", namespace),
	}
}

// NewRedisClient builds a client from address and password.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}

func (s *RedisStore) Token(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errNoToken()
	}
	if err != nil {
		return "", fmt.Errorf("reading token from redis: %w", err)
	}
	if token == "" {
		return "", errNoToken()
	}
	return token, nil
}

func (s *RedisStore) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("refusing to store empty token")
	}
	if err := s.client.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("writing token to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearToken(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("deleting token from redis: %w", err)
	}
	return nil
}
