package svc

import (
	"context"
	"sync/atomic"
	"time"

	"clipd/metrics"
	"clipd/svc/db"
	"clipd/svc/util"

	"github.com/pkg/errors"
)

// Reaper physically deletes expired clips. Reads already hide them, so the
// sweep only reclaims storage; missing a cycle is harmless.
type Reaper struct {
	db       *db.SQLite
	interval time.Duration
	running  atomic.Bool
}

func NewReaper(sqlDB *db.SQLite, interval time.Duration) *Reaper {
	if sqlDB == nil {
		panic("reaper: nil db")
	}
	return &Reaper{db: sqlDB, interval: interval}
}

// Sweep runs one deletion pass and returns how many clips were removed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	metrics.ReaperCycles.Inc()
	deleted, err := r.db.SweepExpired(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "sweep expired clips")
	}
	metrics.ReaperDeleted.Add(float64(deleted))
	if remaining, err := r.db.CountExpired(ctx); err == nil {
		metrics.ExpiredClips.Set(float64(remaining))
	}
	return deleted, nil
}

// Run sweeps on a ticker until ctx is cancelled. Only one loop runs per
// Reaper; further calls return immediately.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("reaper already running")
	}
	go r.loop(ctx)
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.running.Store(false)
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", r.interval).
		Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", sweepRequestID).
				Msg("reaper shutting down")
			return
		case <-ticker.C:
			deleted, err := r.Sweep(ctx)
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep failed")
			} else if deleted > 0 {
				util.Info().
					Int("deleted", deleted).
					Str("request_id", util.GetRequestID(ctx)).
					Msg("sweep completed")
			}
		}
	}
}
