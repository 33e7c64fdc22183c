package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/localmart/marketplace-client/internal/core/ports"
)

// KVStore implements ports.KeyValueStore on Redis. Values are stored as JSON
// under <namespace>:<key> without expiry.
type KVStore struct {
	client    redis.Cmdable
	namespace string
}

// NewKVStore creates a KVStore. An empty namespace stores keys unprefixed.
func NewKVStore(client redis.Cmdable, namespace string) *KVStore {
	return &KVStore{client: client, namespace: namespace}
}

// Get decodes the value under key into out.
func (s *KVStore) Get(ctx context.Context, key string, out any) error {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.ErrKeyNotFound
		}
		return fmt.Errorf("kv get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("kv get %s: %w: %v", key, ports.ErrMalformedValue, err)
	}
	return nil
}

// Set stores value under key.
func (s *KVStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv set %s: encode: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("kv remove %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}
