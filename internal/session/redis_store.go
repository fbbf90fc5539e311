// Package session provides session storage backends for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brokercrm/internal/store"
	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("token not found or expired")

// TokenData holds the data stored for each refresh token
type TokenData struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements refresh token storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	client, err := Dial(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(client), nil
}

// Dial parses redisURL and verifies the server answers PING.
func Dial(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "crm:refresh:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveRefreshSession stores a refresh token with expiration
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	data := TokenData{
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession retrieves a refresh token and returns user info
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	if data.Role == "" {
		data.Role = "user"
	}

	return store.User{
		ID:    data.UserID,
		Name:  data.Name,
		Email: data.Email,
		Role:  data.Role,
	}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
