package ports

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by KeyValueStore.Get for a missing key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrMalformedValue wraps decode failures of stored values.
	ErrMalformedValue = errors.New("malformed stored value")
)

// KeyValueStore is durable local storage for JSON-serializable values. It
// survives process restarts.
type KeyValueStore interface {
	// Get decodes the value stored at key into out. Returns ErrKeyNotFound
	// when the key is absent and an error wrapping ErrMalformedValue when
	// the stored bytes cannot be decoded.
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}
