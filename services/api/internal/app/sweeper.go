package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type HoldSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type TransferSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper periodically releases lapsed holds and expires stale transfers.
// Reads already sweep lazily; this keeps idle tiers accurate too.
type Sweeper struct {
	holds     HoldSweeper
	transfers TransferSweeper
	interval  time.Duration
	logger    logrus.FieldLogger
}

func NewSweeper(holds HoldSweeper, transfers TransferSweeper, interval time.Duration, logger logrus.FieldLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Sweeper{
		holds:     holds,
		transfers: transfers,
		interval:  interval,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (holds, transfers int) {
	var err error
	if holds, err = s.holds.SweepExpired(ctx); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("sweep expired holds")
	}
	if transfers, err = s.transfers.SweepExpired(ctx); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Error("sweep expired transfers")
	}
	return holds, transfers
}
