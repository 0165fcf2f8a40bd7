package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Expirer expires sessions that outlived the TTL without a submission.
type Expirer interface {
	ExpireStale(ctx context.Context) ([]string, error)
}

// ExpiryWorker periodically sweeps abandoned PENDING sessions to EXPIRED so
// they stop counting as open games.
type ExpiryWorker struct {
	expirer  Expirer
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger
}

func NewExpiryWorker(expirer Expirer, clock clockwork.Clock, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		clock:    clock,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.Chan():
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	ids, err := w.expirer.ExpireStale(sweepCtx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Expiry sweep failed")
		}
		return
	}
	if len(ids) > 0 {
		w.log.Info().Int("count", len(ids)).Strs("session_ids", ids).Msg("Expired abandoned sessions")
	}
}
