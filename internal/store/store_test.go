package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure.mail/internal/models"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// testUpdateSemantics checks the contract shared by every backend.
func testUpdateSemantics(t *testing.T, s Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	key := prefix + "_counter"
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	// absent key sees nil
	err := s.Update(ctx, key, func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	// an error aborts without writing
	boom := errors.New("boom")
	err = s.Update(ctx, key, func(current []byte) ([]byte, error) {
		return []byte("2"), boom
	})
	assert.ErrorIs(t, err, boom)
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	// nil deletes
	require.NoError(t, s.Update(ctx, key, func([]byte) ([]byte, error) { return nil, nil }))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testJSONRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, s, "rec_1", record{Name: "a", Count: 2}, 0))
	var out record
	require.NoError(t, GetJSON(ctx, s, "rec_1", &out))
	assert.Equal(t, record{Name: "a", Count: 2}, out)

	require.NoError(t, s.Set(ctx, "rec_bad", []byte("{"), 0))
	err := GetJSON(ctx, s, "rec_bad", &out)
	assert.ErrorIs(t, err, models.ErrStorage)

	err = GetJSON(ctx, s, "rec_missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testConcurrentUpdates(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	var conflicts int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "hits", func(current []byte) ([]byte, error) {
				n := 0
				if current != nil {
					n, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if errors.Is(err, ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
				return
			}
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "hits")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers-conflicts), string(got))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = s.Close() })

	testUpdateSemantics(t, s, "mem")
	testJSONRoundTrip(t, s)
	testConcurrentUpdates(t, s)
}

func TestMemoryStoreTTL(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", []byte("x"), 20*time.Millisecond))
	require.NoError(t, s.Set(ctx, "long", []byte("y"), 0))

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "short")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	keys, err := s.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, keys)
}

func TestMemoryStoreKeysByPrefix(t *testing.T) {
	s := NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	for _, k := range []string{"destruct_b", "destruct_a", "message_a"} {
		require.NoError(t, s.Set(ctx, k, []byte("1"), 0))
	}

	keys, err := s.Keys(ctx, "destruct_")
	require.NoError(t, err)
	assert.Equal(t, []string{"destruct_a", "destruct_b"}, keys)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore(0)
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, models.ErrStorage)
	err = s.Set(context.Background(), "k", []byte("v"), 0)
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	v := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", v, 0))
	v[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
