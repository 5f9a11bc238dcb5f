package store

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes images older than the retention period.
type Sweeper struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	log       *slog.Logger
}

// NewSweeper creates a Sweeper that runs every interval.
func NewSweeper(store *Store, retention, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		interval:  interval,
		log:       log,
	}
}

// Run sweeps once per interval until ctx is cancelled. The next sweep is
// scheduled only after the previous one has finished.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("image sweeper started", "interval", s.interval, "retention", s.retention)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("image sweeper stopped")
			return nil
		case <-timer.C:
			s.sweep()
			timer.Reset(s.interval)
		}
	}
}

func (s *Sweeper) sweep() {
	deleted, err := s.store.SweepOlderThan(s.retention)
	if err != nil {
		s.log.Error("image sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("expired images deleted", "count", deleted)
	}
}
