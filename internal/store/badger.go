package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var _ Store = (*BadgerStore)(nil)

// BadgerStore persists values in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, wrap("open", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return value, nil
}

func (b *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	return wrap("set", key, err)
}

func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return wrap("delete", key, err)
}

func (b *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, wrap("keys", prefix, err)
	}
	return keys, nil
}

// Update relies on Badger's optimistic transactions and retries on
// ErrConflict.
func (b *BadgerStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	k := []byte(key)
	var fnErr error

	txf := func(txn *badger.Txn) error {
		var current []byte
		var expiresAt uint64

		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if current, err = item.ValueCopy(nil); err != nil {
				return err
			}
			expiresAt = item.ExpiresAt()
		}

		next, err := fn(current)
		if err != nil {
			fnErr = err
			return err
		}

		switch {
		case next == nil && current == nil:
			return nil
		case next == nil:
			return txn.Delete(k)
		}

		e := badger.NewEntry(k, next)
		if expiresAt > 0 {
			ttl := time.Until(time.Unix(int64(expiresAt), 0))
			if ttl < time.Second {
				ttl = time.Second
			}
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	}

	for i := 0; i < maxWatchRetries; i++ {
		if err := ctx.Err(); err != nil {
			return wrap("update", key, err)
		}
		fnErr = nil
		err := b.db.Update(txf)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return wrap("update", key, err)
	}
	return ErrConflict
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
