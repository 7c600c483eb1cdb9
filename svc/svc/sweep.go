package svc

import (
	"context"
	"pastebox/metrics"
	"pastebox/pkg/clock"
	"pastebox/svc/util"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StartSweeper reclaims space held by dead pastes every interval and blocks
// until ctx ends. A purge in flight finishes before it returns. Reads never
// depend on it.
func StartSweeper(ctx context.Context, store Purger, interval time.Duration, clk clock.Clock) error {
	if store == nil {
		return errors.New("sweeper: nil store")
	}
	if interval <= 0 {
		return errors.Errorf("sweeper: invalid interval %s", interval)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	ctx = util.SetRequestID(ctx, uuid.New().String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", util.GetRequestID(ctx)).
		Dur("interval", interval).
		Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", util.GetRequestID(ctx)).
				Msg("sweeper shutting down")
			return nil
		case <-ticker.C:
			sweep(ctx, store, clk.Now())
		}
	}
}

func sweep(ctx context.Context, store Purger, now time.Time) {
	metrics.SweepCycles.Inc()
	purged, err := store.PurgeDead(ctx, now)
	if purged > 0 {
		metrics.SweepPurged.Add(float64(purged))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep failed")
		return
	}
	if purged > 0 {
		util.Info().
			Int64("purged", purged).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep completed")
	}
}
