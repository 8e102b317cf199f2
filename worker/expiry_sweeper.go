package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"seat-reservation/metrics"
	"seat-reservation/model"
	"seat-reservation/repository"
)

type Expirer interface {
	Expire(ctx context.Context, reservationID string) (*model.Reservation, error)
}

type SweepStats struct {
	Skipped bool
	Expired int
	Failed  int
}

// ExpirySweeper cancels reservations left PENDING longer than PendingTimeout.
// Each reservation is cancelled on its own; failures are logged and picked up
// again on a later tick.
type ExpirySweeper struct {
	Store          repository.DurableStore
	Expirer        Expirer
	Logger         *logrus.Logger
	Clock          clockwork.Clock
	PendingTimeout time.Duration
	BatchSize      int

	running atomic.Bool
}

func NewExpirySweeper(store repository.DurableStore, expirer Expirer, logger *logrus.Logger, pendingTimeout time.Duration, batchSize int) *ExpirySweeper {
	return &ExpirySweeper{
		Store:          store,
		Expirer:        expirer,
		Logger:         logger,
		Clock:          clockwork.NewRealClock(),
		PendingTimeout: pendingTimeout,
		BatchSize:      batchSize,
	}
}

func (s *ExpirySweeper) RunOnce(ctx context.Context) SweepStats {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SkippedTicks.WithLabelValues("expiry").Inc()
		return SweepStats{Skipped: true}
	}
	defer s.running.Store(false)

	var stats SweepStats
	cutoff := s.Clock.Now().Add(-s.PendingTimeout)

	overdue, err := s.Store.FindExpiredPending(ctx, cutoff, s.BatchSize)
	if err != nil {
		s.Logger.WithContext(ctx).WithError(err).Error("expired reservation lookup failed")
		return stats
	}

	for _, r := range overdue {
		if _, err := s.Expirer.Expire(ctx, r.ID); err != nil {
			stats.Failed++
			s.Logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
				"reservation_id": r.ID,
				"seat_id":        r.SeatID,
			}).Warn("reservation expiry failed")
			continue
		}
		stats.Expired++
	}

	if len(overdue) > 0 {
		s.Logger.WithContext(ctx).WithFields(logrus.Fields{
			"expired": stats.Expired,
			"failed":  stats.Failed,
			"cutoff":  cutoff,
		}).Info("expiry sweep")
	}
	return stats
}
