package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"deptdocs/core/internal/domain"
	"github.com/redis/go-redis/v9"
)

// principalData is what gets stored for each credential
type principalData struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	Departments []int64   `json:"departments"`
	SavedAt     time.Time `json:"saved_at"`
}

// DefaultTTL applies when Save is given no expiry.
const DefaultTTL = 24 * time.Hour

// RedisStore persists principal snapshots keyed by a hash of the credential,
// so a restarted client can restore its session without logging in again.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed principal store
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "principal:",
	}
}

// HashCredential is the key material stored in Redis; raw credentials never are.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

func (s *RedisStore) key(credential string) string {
	return s.prefix + HashCredential(credential)
}

// Save stores p under its credential until expiresAt.
func (s *RedisStore) Save(ctx context.Context, p domain.Principal, expiresAt time.Time) error {
	if p.Credential == "" {
		return domain.Unauthenticated("principal has no credential")
	}
	data := principalData{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Roles:       p.Roles,
		Departments: p.Departments,
		SavedAt:     time.Now().UTC(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}

	ttl := time.Until(expiresAt)
	if expiresAt.IsZero() || ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := s.client.Set(ctx, s.key(p.Credential), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save principal: %w", err)
	}
	return nil
}

// Lookup returns the principal saved for credential. A missing or expired
// entry is Unauthenticated.
func (s *RedisStore) Lookup(ctx context.Context, credential string) (domain.Principal, error) {
	jsonData, err := s.client.Get(ctx, s.key(credential)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Principal{}, domain.Unauthenticated("session not found or expired")
	}
	if err != nil {
		return domain.Principal{}, fmt.Errorf("lookup principal: %w", err)
	}

	var data principalData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return domain.Principal{}, fmt.Errorf("unmarshal principal: %w", err)
	}

	if len(data.Roles) == 0 {
		data.Roles = []string{domain.RoleUser}
	}

	return domain.Principal{
		ID:          data.ID,
		DisplayName: data.DisplayName,
		Roles:       data.Roles,
		Departments: data.Departments,
		Credential:  credential,
	}, nil
}

// Revoke deletes the snapshot for credential
func (s *RedisStore) Revoke(ctx context.Context, credential string) error {
	if err := s.client.Del(ctx, s.key(credential)).Err(); err != nil {
		return fmt.Errorf("revoke principal: %w", err)
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
