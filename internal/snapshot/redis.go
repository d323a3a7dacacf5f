package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis, one JSON document per request id.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption customizes the store.
type RedisOption func(*RedisStore)

// WithTTL sets an expiration for snapshots. Zero (the default) keeps them
// until deleted.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for snapshots.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a store with its own client.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "convoy:snapshot:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) key(requestID string) string {
	return s.prefix + requestID
}

// Upsert stores the snapshot, preserving creation time on overwrite.
func (s *RedisStore) Upsert(ctx context.Context, snap *Snapshot) error {
	if snap == nil || strings.TrimSpace(snap.RequestID) == "" {
		return fmt.Errorf("snapshot: request id is required")
	}
	now := time.Now().UTC()
	stored := snap.clone()
	stored.UpdatedAt = now
	if existing, err := s.Get(ctx, snap.RequestID); err == nil {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", snap.RequestID, err)
	}
	if err := s.client.Set(ctx, s.key(snap.RequestID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("snapshot: upsert %s: %w", snap.RequestID, err)
	}
	return nil
}

// Get returns the snapshot for a request id.
func (s *RedisStore) Get(ctx context.Context, requestID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("snapshot: get %s: %w", requestID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", requestID, err)
	}
	return &snap, nil
}

// Delete removes the snapshot for a request id.
func (s *RedisStore) Delete(ctx context.Context, requestID string) error {
	removed, err := s.client.Del(ctx, s.key(requestID)).Result()
	if err != nil {
		return fmt.Errorf("snapshot: delete %s: %w", requestID, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return nil
}
