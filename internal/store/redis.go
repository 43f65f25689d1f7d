// redis.go
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

const (
	redisNamespace  = "mail:"
	maxWatchRetries = 3
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(options *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, wrap("ping", options.Addr, err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, namespaced(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, wrap("get", key, err)
	}
	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap("set", key, r.client.Set(ctx, namespaced(key), value, ttl).Err())
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return wrap("delete", key, r.client.Del(ctx, namespaced(key)).Err())
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, namespaced(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisNamespace))
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", prefix, err)
	}
	return keys, nil
}

// Update runs fn inside WATCH/MULTI and retries when another client
// touched the key in between.
func (r *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rkey := namespaced(key)
	var fnErr error

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rkey).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return wrap("get", key, err)
			}
			current = nil
		}

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}
		if next == nil && current == nil {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, rkey)
			} else {
				pipe.Set(ctx, rkey, next, redis.KeepTTL)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		fnErr = nil
		err := r.client.Watch(ctx, txf, rkey)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap("update", key, err)
	}

	return ErrConflict
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func namespaced(key string) string {
	return redisNamespace + key
}
