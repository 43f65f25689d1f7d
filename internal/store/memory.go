package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"secure.mail/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

var errClosed = fmt.Errorf("%w: store is closed", models.ErrStorage)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

type MemoryStore struct {
	entries       map[string]entry
	mu            sync.RWMutex
	locks         map[string]*keyLock
	locksMu       sync.Mutex
	cleanupCancel context.CancelFunc
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	store := &MemoryStore{
		entries:       make(map[string]entry),
		locks:         make(map[string]*keyLock),
		cleanupCancel: cancel,
	}
	go store.cleanupLoop(ctx, cleanupInterval)
	return store
}

// lockKey serializes writers of a single key without blocking other keys.
func (s *MemoryStore) lockKey(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entries == nil {
		return nil, errClosed
	}

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrNotFound
	}

	return clone(e.value), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock := s.lockKey(key)
	defer unlock()

	return s.put(key, value, ttl)
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		return errClosed
	}

	e := entry{value: clone(value)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	unlock := s.lockKey(key)
	defer unlock()

	return s.remove(key)
}

func (s *MemoryStore) remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		return errClosed
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entries == nil {
		return nil, errClosed
	}

	now := time.Now()
	keys := make([]string, 0)
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update applies fn under the key's lock. fn must not call back into the
// store for the same key.
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	unlock := s.lockKey(key)
	defer unlock()

	var current []byte
	var ttl time.Duration

	s.mu.RLock()
	if s.entries == nil {
		s.mu.RUnlock()
		return errClosed
	}
	if e, ok := s.entries[key]; ok && !e.expired(time.Now()) {
		current = clone(e.value)
		if !e.expiresAt.IsZero() {
			ttl = time.Until(e.expiresAt)
		}
	}
	s.mu.RUnlock()

	next, err := fn(current)
	if err != nil {
		return err
	}

	if next == nil {
		if current == nil {
			return nil
		}
		return s.remove(key)
	}
	return s.put(key, next, ttl)
}

func (s *MemoryStore) Close() error {
	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	return nil
}

func (s *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
