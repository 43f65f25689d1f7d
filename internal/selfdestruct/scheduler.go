// Package selfdestruct tracks per-message expiry and read limits and
// destroys message content when either runs out.
package selfdestruct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"secure.mail/internal/clock"
	"secure.mail/internal/logging"
	"secure.mail/internal/metrics"
	"secure.mail/internal/models"
	"secure.mail/internal/store"
)

const (
	recordPrefix    = "destruct_"
	tombstonePrefix = "destroyed_"

	DefaultGrace = time.Second

	// timer callbacks run detached from any request
	callbackTimeout = 30 * time.Second
	minRearm        = 100 * time.Millisecond
)

var (
	ErrNotTracked = errors.New("message has no self-destruct record")

	// errUnchanged aborts a store update without writing.
	errUnchanged = errors.New("unchanged")
)

// Purger removes message content owned by another component.
type Purger interface {
	Purge(ctx context.Context, messageID string) error
}

// Notifier receives destruction events. Notify must not block.
type Notifier interface {
	Notify(ev models.DestructionEvent)
}

// Verdict answers whether a message may be read.
type Verdict struct {
	Allowed bool
	// More is false when no further reads will be permitted.
	More   bool
	Reason string
	Err    error
}

func allow() Verdict { return Verdict{Allowed: true, More: true} }

func deny(reason models.DestructReason) Verdict {
	return Verdict{Reason: reason.Message(), Err: reason.Err()}
}

type Scheduler struct {
	store     store.Store
	clock     clock.Clock
	grace     time.Duration
	log       *zerolog.Logger
	purgers   []Purger
	notifiers []Notifier

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func New(s store.Store, clk clock.Clock, grace time.Duration, log *zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if grace < 0 {
		grace = DefaultGrace
	}
	return &Scheduler{
		store:  s,
		clock:  clk,
		grace:  grace,
		log:    logging.Component(log, "scheduler"),
		timers: make(map[string]*time.Timer),
	}
}

// AddPurger registers content owners. Call before serving traffic.
func (s *Scheduler) AddPurger(p Purger) { s.purgers = append(s.purgers, p) }

// AddNotifier registers event consumers. Call before serving traffic.
func (s *Scheduler) AddNotifier(n Notifier) { s.notifiers = append(s.notifiers, n) }

func recordKey(id string) string    { return recordPrefix + id }
func tombstoneKey(id string) string { return tombstonePrefix + id }

// Create starts tracking id. A disabled config tracks nothing and returns
// a nil record.
func (s *Scheduler) Create(ctx context.Context, id string, cfg models.SelfDestructConfig) (*models.SelfDestructRecord, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ExpiresAfter < 0 || cfg.MaxReads < 0 {
		return nil, models.Validationf("self-destruct limits must not be negative")
	}

	now := s.clock.Now()
	rec := &models.SelfDestructRecord{
		MessageID:       id,
		DeleteAfterRead: cfg.DeleteAfterRead,
		MaxReads:        cfg.MaxReads,
	}
	if rec.MaxReads == 0 {
		rec.MaxReads = 1
	}
	if cfg.ExpiresAfter > 0 {
		rec.ExpiresAt = now.Add(cfg.ExpiresAfter).UnixMilli()
	}
	rec.Refresh(now)

	if err := store.SetJSON(ctx, s.store, recordKey(id), rec, 0); err != nil {
		return nil, err
	}

	if rec.ExpiresAt > 0 {
		s.armExpiry(id, time.Duration(rec.TimeRemaining)*time.Millisecond)
	}

	s.log.Debug().
		Str("message_id", id).
		Int64("expires_at", rec.ExpiresAt).
		Int("max_reads", rec.MaxReads).
		Bool("delete_after_read", rec.DeleteAfterRead).
		Msg("self-destruct armed")

	return rec, nil
}

func (s *Scheduler) load(ctx context.Context, id string) (*models.SelfDestructRecord, error) {
	var rec models.SelfDestructRecord
	if err := store.GetJSON(ctx, s.store, recordKey(id), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec.Refresh(s.clock.Now())
	return &rec, nil
}

// Tombstone returns the destruction marker for id, or nil when id was
// never destroyed.
func (s *Scheduler) Tombstone(ctx context.Context, id string) (*models.Tombstone, error) {
	var t models.Tombstone
	if err := store.GetJSON(ctx, s.store, tombstoneKey(id), &t); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Get returns the refreshed record for id.
func (s *Scheduler) Get(ctx context.Context, id string) (*models.SelfDestructRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotTracked
	}
	return rec, nil
}

// CanRead reports whether id may be read right now. Expired records are
// destroyed on the spot. Only storage failures are returned as errors.
func (s *Scheduler) CanRead(ctx context.Context, id string) (Verdict, error) {
	tomb, err := s.Tombstone(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	if tomb != nil {
		return deny(tomb.Reason), nil
	}

	rec, err := s.load(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	if rec == nil {
		return allow(), nil
	}

	if rec.IsExpired {
		if err := s.Destroy(ctx, id, models.ReasonTimeExpired); err != nil {
			return Verdict{}, err
		}
		return deny(models.ReasonTimeExpired), nil
	}
	if rec.ReadsExhausted() {
		return deny(models.ReasonReadLimitReached), nil
	}
	return allow(), nil
}

type readOutcome int

const (
	readUntracked readOutcome = iota
	readCounted
	readLast
	readExpired
	readExhausted
)

// RecordRead counts one read of id. The expiry and read-limit checks run
// inside the per-key update, so concurrent readers of a one-read message
// cannot both be allowed. The last permitted read is allowed with More
// unset and destruction follows after the grace delay.
func (s *Scheduler) RecordRead(ctx context.Context, id string) (Verdict, error) {
	tomb, err := s.Tombstone(ctx, id)
	if err != nil {
		return Verdict{}, err
	}
	if tomb != nil {
		return deny(tomb.Reason), nil
	}

	outcome := readUntracked
	err = s.store.Update(ctx, recordKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			outcome = readUntracked
			return nil, errUnchanged
		}
		var rec models.SelfDestructRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrStorage, recordKey(id), err)
		}
		rec.Refresh(s.clock.Now())

		switch {
		case rec.IsExpired:
			outcome = readExpired
			return nil, errUnchanged
		case rec.ReadsExhausted():
			outcome = readExhausted
			return nil, errUnchanged
		}

		rec.CurrentReads++
		outcome = readCounted
		if rec.ReadsExhausted() {
			outcome = readLast
		}
		return json.Marshal(rec)
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return Verdict{}, err
	}

	switch outcome {
	case readExpired:
		if err := s.Destroy(ctx, id, models.ReasonTimeExpired); err != nil {
			return Verdict{}, err
		}
		return deny(models.ReasonTimeExpired), nil
	case readExhausted:
		return deny(models.ReasonReadLimitReached), nil
	case readLast:
		s.scheduleDestroy(id, models.ReasonReadLimitReached, s.grace)
		return Verdict{Allowed: true, More: false, Reason: models.ReasonReadLimit}, nil
	case readUntracked:
		// Destroy may have removed the record after the first tombstone check.
		tomb, err := s.Tombstone(ctx, id)
		if err != nil {
			return Verdict{}, err
		}
		if tomb != nil {
			return deny(tomb.Reason), nil
		}
		return allow(), nil
	default:
		return allow(), nil
	}
}

// Destroy removes id's record and content and notifies subscribers. It is
// idempotent: destroying an already destroyed id does nothing.
func (s *Scheduler) Destroy(ctx context.Context, id string, reason models.DestructReason) error {
	s.cancelTimer(id)

	now := s.clock.Now()
	claimed := false
	err := s.store.Update(ctx, tombstoneKey(id), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, errUnchanged
		}
		claimed = true
		return json.Marshal(models.Tombstone{
			MessageID:   id,
			Reason:      reason,
			DestroyedAt: now.UnixMilli(),
		})
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return err
	}
	if !claimed {
		return nil
	}

	var errs []error
	if err := s.store.Delete(ctx, recordKey(id)); err != nil {
		errs = append(errs, err)
	}
	for _, p := range s.purgers {
		if err := p.Purge(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	metrics.IncDestroyed(string(reason))
	s.log.Info().
		Str("message_id", id).
		Str("reason", string(reason)).
		Msg("message self-destructed")

	ev := models.DestructionEvent{
		MessageID: id,
		Reason:    reason,
		Message:   reason.Message(),
		At:        now.UnixMilli(),
	}
	for _, n := range s.notifiers {
		n.Notify(ev)
	}

	if len(errs) > 0 {
		return fmt.Errorf("destroying %s: %w", id, errors.Join(errs...))
	}
	return nil
}

// ManualDestruct destroys id immediately on the caller's request.
func (s *Scheduler) ManualDestruct(ctx context.Context, id string) error {
	return s.Destroy(ctx, id, models.ReasonManualDestruct)
}

// List returns every tracked record, refreshed against the clock.
func (s *Scheduler) List(ctx context.Context) ([]models.SelfDestructRecord, error) {
	keys, err := s.store.Keys(ctx, recordPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]models.SelfDestructRecord, 0, len(keys))
	for _, k := range keys {
		rec, err := s.load(ctx, strings.TrimPrefix(k, recordPrefix))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// CleanupExpired destroys every expired record and returns how many were
// destroyed. Safe to run repeatedly and alongside the timers.
func (s *Scheduler) CleanupExpired(ctx context.Context) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	var errs []error
	for _, rec := range records {
		if !rec.IsExpired {
			continue
		}
		if err := s.Destroy(ctx, rec.MessageID, models.ReasonTimeExpired); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Rearm restores timers for persisted records after a restart and
// finishes destructions that were pending when the process stopped.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	armed := 0
	for _, rec := range records {
		switch {
		case rec.IsExpired:
			if err := s.Destroy(ctx, rec.MessageID, models.ReasonTimeExpired); err != nil {
				return armed, err
			}
		case rec.ReadsExhausted():
			if err := s.Destroy(ctx, rec.MessageID, models.ReasonReadLimitReached); err != nil {
				return armed, err
			}
		case rec.ExpiresAt > 0:
			s.armExpiry(rec.MessageID, time.Duration(rec.TimeRemaining)*time.Millisecond)
			armed++
		}
	}

	s.log.Info().Int("armed", armed).Int("records", len(records)).Msg("self-destruct timers restored")
	return armed, nil
}

// Close stops all pending timers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) armExpiry(id string, after time.Duration) {
	s.setTimer(id, after, func() { s.expire(id) })
}

func (s *Scheduler) scheduleDestroy(id string, reason models.DestructReason, after time.Duration) {
	s.setTimer(id, after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()
		if err := s.Destroy(ctx, id, reason); err != nil {
			s.log.Error().Err(err).Str("message_id", id).Msg("scheduled destruction failed")
		}
	})
}

func (s *Scheduler) setTimer(id string, after time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(max(after, 0), fn)
}

func (s *Scheduler) cancelTimer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// expire runs when an expiry timer fires. The persisted expiresAt is
// authoritative, so an early wake-up re-arms instead of destroying.
func (s *Scheduler) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	rec, err := s.load(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("message_id", id).Msg("expiry check failed")
		return
	}
	if rec == nil {
		return
	}
	if !rec.IsExpired {
		s.armExpiry(id, max(time.Duration(rec.TimeRemaining)*time.Millisecond, minRearm))
		return
	}
	if err := s.Destroy(ctx, id, models.ReasonTimeExpired); err != nil {
		s.log.Error().Err(err).Str("message_id", id).Msg("expiry destruction failed")
	}
}
