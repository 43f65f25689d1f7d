package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to REDIS_ADDR; the test is skipped when unset.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	store, err := NewRedisStore(&redis.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	store := newTestRedis(t)
	ctx := context.Background()
	prefix := "test_" + uuid.NewString() + "_"

	require.NoError(t, store.Set(ctx, prefix+"live", []byte("test"), time.Hour))
	require.NoError(t, store.Set(ctx, prefix+"dead", []byte("test4"), time.Second))
	t.Cleanup(func() { _ = store.Delete(ctx, prefix+"live") })

	time.Sleep(1500 * time.Millisecond)

	got, err := store.Get(ctx, prefix+"live")
	require.NoError(t, err)
	assert.Equal(t, "test", string(got))

	_, err = store.Get(ctx, prefix+"dead")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.Keys(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "live"}, keys)
}

func TestRedisStoreUpdate(t *testing.T) {
	store := newTestRedis(t)
	testUpdateSemantics(t, store, "test_"+uuid.NewString())
}
