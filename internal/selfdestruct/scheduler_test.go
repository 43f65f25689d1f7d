package selfdestruct

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure.mail/internal/clock"
	"secure.mail/internal/logging"
	"secure.mail/internal/models"
	"secure.mail/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []models.DestructionEvent
	purged []string
}

func (r *recorder) Notify(ev models.DestructionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Purge(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, id)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type harness struct {
	sched *Scheduler
	store *store.MemoryStore
	clock *clock.Mock
	rec   *recorder
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	h := &harness{
		store: store.NewMemoryStore(0),
		clock: clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)),
		rec:   &recorder{},
	}
	h.sched = New(h.store, h.clock, grace, logging.Nop())
	h.sched.AddPurger(h.rec)
	h.sched.AddNotifier(h.rec)
	t.Cleanup(func() {
		h.sched.Close()
		_ = h.store.Close()
	})
	return h
}

func TestCreate(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	rec, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(time.Hour).UnixMilli(), rec.ExpiresAt)
	assert.Equal(t, 1, rec.MaxReads)
	assert.Equal(t, int64(time.Hour/time.Millisecond), rec.TimeRemaining)
	assert.False(t, rec.IsExpired)

	rec, err = h.sched.Create(ctx, "m2", models.SelfDestructConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = h.sched.Get(ctx, "m2")
	assert.ErrorIs(t, err, ErrNotTracked)

	_, err = h.sched.Create(ctx, "m3", models.SelfDestructConfig{Enabled: true, MaxReads: -1})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCanReadUntracked(t *testing.T) {
	h := newHarness(t, 0)

	v, err := h.sched.CanRead(context.Background(), "nope")
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	v, err = h.sched.RecordRead(context.Background(), "nope")
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.True(t, v.More)
}

func TestExpiryMonotonicity(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	const ttl = 10 * time.Minute

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: ttl})
	require.NoError(t, err)

	for _, step := range []time.Duration{0, time.Minute, 5 * time.Minute, ttl - time.Millisecond} {
		h.clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(step))
		v, err := h.sched.CanRead(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, v.Allowed, "at %v", step)
	}

	for _, step := range []time.Duration{ttl, ttl + time.Second, 2 * ttl} {
		h.clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(step))
		v, err := h.sched.CanRead(ctx, "m1")
		require.NoError(t, err)
		assert.False(t, v.Allowed, "at %v", step)
		assert.Equal(t, models.ReasonExpired, v.Reason)
		assert.ErrorIs(t, v.Err, models.ErrExpired)
	}

	assert.Equal(t, 1, h.rec.count())
	assert.Equal(t, models.ReasonTimeExpired, h.rec.events[0].Reason)
}

func TestRecordReadExpired(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Millisecond})
	require.NoError(t, err)
	h.clock.Advance(5 * time.Millisecond)

	v, err := h.sched.RecordRead(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.ReasonExpired, v.Reason)

	tomb, err := h.sched.Tombstone(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, tomb)
	assert.Equal(t, models.ReasonTimeExpired, tomb.Reason)
}

func TestReadLimitEnforcement(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	const n = 3

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, DeleteAfterRead: true, MaxReads: n})
	require.NoError(t, err)

	for i := 1; i < n; i++ {
		v, err := h.sched.RecordRead(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, v.Allowed)
		assert.True(t, v.More)
	}

	v, err := h.sched.RecordRead(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.False(t, v.More)

	// rejected during the grace window and after destruction
	v, err = h.sched.CanRead(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.ErrorIs(t, v.Err, models.ErrReadLimit)

	assert.Eventually(t, func() bool { return h.rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ReasonReadLimitReached, h.rec.events[0].Reason)
	assert.Equal(t, []string{"m1"}, h.rec.purged)

	v, err = h.sched.RecordRead(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.ReasonReadLimit, v.Reason)

	_, err = h.sched.Get(ctx, "m1")
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestReadsUnlimitedWithoutDeleteAfterRead(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, MaxReads: 1, ExpiresAfter: time.Hour})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		v, err := h.sched.RecordRead(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, v.Allowed)
	}

	rec, err := h.sched.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.CurrentReads)
}

func TestConcurrentSingleRead(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx := context.Background()

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, DeleteAfterRead: true, MaxReads: 1})
	require.NoError(t, err)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := h.sched.RecordRead(ctx, "m1")
			assert.NoError(t, err)
			if v.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), allowed.Load())
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Hour})
	require.NoError(t, err)

	require.NoError(t, h.sched.ManualDestruct(ctx, "m1"))
	first, err := h.store.Keys(ctx, "")
	require.NoError(t, err)

	require.NoError(t, h.sched.Destroy(ctx, "m1", models.ReasonTimeExpired))
	second, err := h.store.Keys(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.rec.count())

	tomb, err := h.sched.Tombstone(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonManualDestruct, tomb.Reason)

	v, err := h.sched.CanRead(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.ReasonDestroyed, v.Reason)
	assert.ErrorIs(t, v.Err, models.ErrDestroyed)

	h.sched.mu.Lock()
	assert.Empty(t, h.sched.timers)
	h.sched.mu.Unlock()
}

// destroyBeforeUpdate runs a destruction right before the first update of
// key, reproducing a destroy that lands between a reader's checks.
type destroyBeforeUpdate struct {
	store.Store
	key     string
	destroy func()
	once    sync.Once
}

func (d *destroyBeforeUpdate) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	if key == d.key {
		d.once.Do(d.destroy)
	}
	return d.Store.Update(ctx, key, fn)
}

func TestRecordReadAfterConcurrentDestroy(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore(0)
	clk := clock.NewMock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	wrapped := &destroyBeforeUpdate{Store: mem, key: recordKey("m1")}
	sched := New(wrapped, clk, 0, logging.Nop())
	t.Cleanup(func() {
		sched.Close()
		_ = mem.Close()
	})

	_, err := sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Hour})
	require.NoError(t, err)

	wrapped.destroy = func() { require.NoError(t, sched.ManualDestruct(ctx, "m1")) }

	v, err := sched.RecordRead(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, models.ReasonDestroyed, v.Reason)
	assert.ErrorIs(t, v.Err, models.ErrDestroyed)
}

func TestExpiryTimerFires(t *testing.T) {
	s := store.NewMemoryStore(0)
	t.Cleanup(func() { _ = s.Close() })
	rec := &recorder{}
	sched := New(s, clock.System{}, 0, logging.Nop())
	sched.AddNotifier(rec)
	t.Cleanup(sched.Close)

	_, err := sched.Create(context.Background(), "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.ReasonTimeExpired, rec.events[0].Reason)
}

func TestCleanupExpired(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	for id, ttl := range map[string]time.Duration{"a": time.Minute, "b": time.Hour, "c": 2 * time.Minute} {
		_, err := h.sched.Create(ctx, id, models.SelfDestructConfig{Enabled: true, ExpiresAfter: ttl})
		require.NoError(t, err)
	}
	h.clock.Advance(5 * time.Minute)

	n, err := h.sched.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.sched.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	records, err := h.sched.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].MessageID)
}

func TestRearm(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.sched.Create(ctx, "live", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Hour})
	require.NoError(t, err)
	_, err = h.sched.Create(ctx, "stale", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Minute})
	require.NoError(t, err)
	_, err = h.sched.Create(ctx, "burnt", models.SelfDestructConfig{Enabled: true, DeleteAfterRead: true, MaxReads: 1})
	require.NoError(t, err)
	require.NoError(t, store.SetJSON(ctx, h.store, "destruct_burnt", models.SelfDestructRecord{
		MessageID: "burnt", DeleteAfterRead: true, MaxReads: 1, CurrentReads: 1,
	}, 0))

	// a fresh scheduler over the same store, as after a restart
	restarted := New(h.store, h.clock, 0, logging.Nop())
	restarted.AddNotifier(h.rec)
	t.Cleanup(restarted.Close)
	h.clock.Advance(2 * time.Minute)

	armed, err := restarted.Rearm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)

	for id, reason := range map[string]models.DestructReason{
		"stale": models.ReasonTimeExpired,
		"burnt": models.ReasonReadLimitReached,
	} {
		tomb, err := restarted.Tombstone(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, tomb, id)
		assert.Equal(t, reason, tomb.Reason)
	}
}

func TestSweeperRun(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := h.sched.Create(ctx, "m1", models.SelfDestructConfig{Enabled: true, ExpiresAfter: time.Minute})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	done := make(chan error, 1)
	go func() { done <- NewSweeper(10*time.Millisecond, h.sched, logging.Nop()).Run(ctx) }()

	assert.Eventually(t, func() bool { return h.rec.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "expired", FormatRemaining(0))
	assert.Equal(t, "45s", FormatRemaining(45_000))
	assert.Equal(t, "2m 5s", FormatRemaining(125_000))
	assert.Equal(t, "1h 30m", FormatRemaining(90*60*1000))
	assert.Equal(t, "2d 3h", FormatRemaining(int64((51*time.Hour)/time.Millisecond)))
}

func TestPresets(t *testing.T) {
	p := Presets()
	assert.Len(t, p, 5)
	assert.Equal(t, 3, p["read3Times"].MaxReads)
	assert.True(t, p["readOnce"].DeleteAfterRead)
	assert.Equal(t, time.Hour, p["1hour"].ExpiresAfter)
}
