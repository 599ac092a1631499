package router

import (
	"context"
	"log/slog"
	"time"
)

type sweeper interface {
	SweepShippedFollowups(ctx context.Context) (*BatchResult, error)
}

// Scheduler runs the shipment follow-up sweep on a fixed interval.
type Scheduler struct {
	sweeper  sweeper
	interval time.Duration
}

func NewScheduler(s sweeper, interval time.Duration) *Scheduler {
	return &Scheduler{sweeper: s, interval: interval}
}

// Run blocks until ctx is cancelled. A failed sweep is logged and retried on
// the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.sweeper.SweepShippedFollowups(ctx)
	if err != nil {
		slog.Error("shipment follow-up sweep failed", "err", err)
		return
	}
	if err := res.Err(); err != nil {
		slog.Warn("shipment follow-up sweep finished with errors", "records", len(res.Items), "err", err)
	}
}
