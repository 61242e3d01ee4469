package sweep

import (
	"context"
	"time"

	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

// Sweeper physically purges bulk-operation journal rows past the retention
// horizon. This is independent of the logical undo-window check: an operation
// stops being undoable after seconds, but its journal row lives for the full
// retention period before this sweep removes it.
type Sweeper struct {
	opRepo    *repository.OperationRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewSweeper(opRepo *repository.OperationRepository, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		opRepo:    opRepo,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. One sweep
// runs immediately at startup to catch up after downtime.
func (s *Sweeper) Run(ctx context.Context) {
	s.SweepOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce deletes journal rows older than the retention horizon.
func (s *Sweeper) SweepOnce() {
	cutoff := s.now().Add(-s.retention)

	purged, err := s.opRepo.DeleteOlderThan(cutoff)
	if err != nil {
		logger.Log.Error("sweep: journal purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Log.Info("sweep: purged journal entries",
			zap.Int64("purged", purged),
			zap.Time("cutoff", cutoff),
		)
	}
}
