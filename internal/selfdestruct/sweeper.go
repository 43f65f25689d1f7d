package selfdestruct

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"secure.mail/internal/logging"
)

// Sweeper periodically destroys expired records. It recovers from timers
// lost across restarts.
type Sweeper struct {
	interval  time.Duration
	scheduler *Scheduler
	log       *zerolog.Logger
}

func NewSweeper(interval time.Duration, scheduler *Scheduler, logger *zerolog.Logger) *Sweeper {
	return &Sweeper{
		interval:  interval,
		scheduler: scheduler,
		log:       logging.Component(logger, "sweeper"),
	}
}

func (w *Sweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("starting self-destruct sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping self-destruct sweeper")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.scheduler.CleanupExpired(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("sweep failed")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("expired messages destroyed")
			}
		}
	}
}
