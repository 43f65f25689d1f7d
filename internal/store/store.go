package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secure.mail/internal/models"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = fmt.Errorf("%w: concurrent update conflict", models.ErrStorage)
)

// UpdateFunc receives the current value (nil when absent) and returns the
// new value. Returning a nil value deletes the key; returning an error
// aborts the update and leaves the key untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a key-value store with JSON-friendly byte values.
// Update must be atomic per key: concurrent updates to the same key
// serialize, updates to different keys must not block each other.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// GetJSON loads and decodes a JSON value.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", models.ErrStorage, key, err)
	}
	return nil
}

// SetJSON encodes and stores a JSON value.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", models.ErrStorage, key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

func wrap(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, models.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", models.ErrStorage, op, key, err)
}
