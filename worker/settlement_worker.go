package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"seat-reservation/metrics"
	"seat-reservation/model"
	"seat-reservation/repository"
)

// errSeatTaken drops an intent whose seat is no longer AVAILABLE at settlement.
type errSeatTaken struct {
	status model.SeatStatus
}

func (e errSeatTaken) Error() string {
	return fmt.Sprintf("seat is %s", e.status)
}

var errAlreadySettled = errors.New("intent already settled")

// DefaultHandoffTimeout bounds a requeue or dead-letter write.
const DefaultHandoffTimeout = 5 * time.Second

type SettlementStats struct {
	Skipped      bool
	Settled      int
	Rejected     int
	Duplicates   int
	Redelivered  int
	DeadLettered int

	// Lost counts intents that could be neither requeued nor dead-lettered.
	Lost int
}

// SettlementWorker drains the write-back queue into MySQL. Each intent gets
// its own transaction: the seat flips AVAILABLE -> HELD only if the version it
// read is still current, and the reservation row reuses the intent id so a
// redelivered intent is recognised and skipped.
type SettlementWorker struct {
	Queue     repository.IntentQueue
	Store     repository.DurableStore
	Events    repository.EventPublisher
	Logger    *logrus.Logger
	Clock     clockwork.Clock
	BatchSize int

	// HandoffTimeout bounds requeue and dead-letter writes, which run detached
	// from the tick context so a popped intent survives shutdown.
	HandoffTimeout time.Duration

	running atomic.Bool
}

func NewSettlementWorker(queue repository.IntentQueue, store repository.DurableStore, events repository.EventPublisher, logger *logrus.Logger, batchSize int) *SettlementWorker {
	if events == nil {
		events = repository.NopPublisher{}
	}
	return &SettlementWorker{
		Queue:     queue,
		Store:     store,
		Events:    events,
		Logger:    logger,
		Clock:     clockwork.NewRealClock(),
		BatchSize: batchSize,

		HandoffTimeout: DefaultHandoffTimeout,
	}
}

// RunOnce processes at most one batch. A call made while another is still
// running returns immediately with Skipped set.
func (w *SettlementWorker) RunOnce(ctx context.Context) SettlementStats {
	if !w.running.CompareAndSwap(false, true) {
		metrics.SkippedTicks.WithLabelValues("settlement").Inc()
		return SettlementStats{Skipped: true}
	}
	defer w.running.Store(false)

	var stats SettlementStats
	log := w.Logger.WithContext(ctx)

	batch, err := w.Queue.PopBatch(ctx, w.BatchSize)
	if err != nil {
		log.WithError(err).Error("write-back queue pop failed")
		return stats
	}

	for _, payload := range batch {
		w.process(ctx, payload, &stats)
	}

	if depth, err := w.Queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	if len(batch) > 0 {
		log.WithFields(logrus.Fields{
			"batch":         len(batch),
			"settled":       stats.Settled,
			"rejected":      stats.Rejected,
			"duplicates":    stats.Duplicates,
			"redelivered":   stats.Redelivered,
			"dead_lettered": stats.DeadLettered,
			"lost":          stats.Lost,
		}).Info("settlement tick")
	}
	return stats
}

func (w *SettlementWorker) process(ctx context.Context, payload []byte, stats *SettlementStats) {
	intent, err := model.DecodeIntent(payload)
	if err != nil {
		w.park(ctx, nil, payload, err, stats)
		return
	}

	log := w.Logger.WithContext(ctx).WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"seat_id":   intent.SeatID,
		"user_id":   intent.UserID,
	})

	res, err := w.settle(ctx, intent)

	var taken errSeatTaken
	switch {
	case err == nil:
		stats.Settled++
		metrics.Settlements.WithLabelValues("settled").Inc()
		w.publish(ctx, model.EventSettled, res, "")

	case errors.Is(err, errAlreadySettled):
		stats.Duplicates++
		metrics.Settlements.WithLabelValues("duplicate").Inc()
		log.Info("intent already settled, skipping redelivery")

	case errors.As(err, &taken):
		stats.Rejected++
		metrics.Settlements.WithLabelValues("rejected").Inc()
		w.publish(ctx, model.EventRejected, res, err.Error())
		log.WithField("seat_status", taken.status).Info("intent dropped, seat taken")

	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrDuplicateReservation):
		stats.Rejected++
		metrics.Settlements.WithLabelValues("rejected").Inc()
		w.publish(ctx, model.EventRejected, res, err.Error())
		log.WithError(err).Info("intent dropped on conflict")

	case errors.Is(err, repository.ErrSeatNotFound), errors.Is(err, repository.ErrPerformanceNotFound):
		w.park(ctx, &intent, payload, err, stats)

	default:
		// store unreachable or tick cancelled: put it back for the next tick
		log.WithError(err).Warn("settlement failed, requeueing intent")
		if w.requeue(ctx, payload) {
			stats.Redelivered++
			return
		}
		if w.deadLetter(ctx, &intent, payload, err) {
			stats.DeadLettered++
			return
		}
		w.lose(ctx, &intent, err, stats)
	}
}

// park moves a poison intent to the dead-letter topic. When the topic is
// unreachable the intent goes back on the queue instead of being dropped.
func (w *SettlementWorker) park(ctx context.Context, intent *model.Intent, payload []byte, cause error, stats *SettlementStats) {
	if w.deadLetter(ctx, intent, payload, cause) {
		stats.DeadLettered++
		return
	}
	if w.requeue(ctx, payload) {
		stats.Redelivered++
		return
	}
	w.lose(ctx, intent, cause, stats)
}

func (w *SettlementWorker) handoffContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := w.HandoffTimeout
	if timeout <= 0 {
		timeout = DefaultHandoffTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (w *SettlementWorker) requeue(ctx context.Context, payload []byte) bool {
	hctx, cancel := w.handoffContext(ctx)
	defer cancel()

	if err := w.Queue.Push(hctx, payload); err != nil {
		w.Logger.WithContext(ctx).WithError(err).Error("could not requeue intent")
		return false
	}
	metrics.Settlements.WithLabelValues("redelivered").Inc()
	return true
}

func (w *SettlementWorker) lose(ctx context.Context, intent *model.Intent, cause error, stats *SettlementStats) {
	stats.Lost++
	metrics.Settlements.WithLabelValues("lost").Inc()
	log := w.Logger.WithContext(ctx).WithError(cause)
	if intent != nil {
		log = log.WithField("intent_id", intent.ID)
	}
	log.Error("intent could not be requeued or dead-lettered, dropped")
}

func (w *SettlementWorker) settle(ctx context.Context, intent model.Intent) (*model.Reservation, error) {
	res := intent.Reservation()

	err := w.Store.Transaction(ctx, func(tx repository.DurableTx) error {
		if _, err := tx.FindReservation(intent.ID); err == nil {
			return errAlreadySettled
		} else if !errors.Is(err, repository.ErrReservationNotFound) {
			return err
		}

		seat, err := tx.FindSeat(intent.SeatID)
		if err != nil {
			return err
		}
		if seat.Status != model.SeatAvailable {
			return errSeatTaken{status: seat.Status}
		}

		// version read above, not the one seen at admission
		ok, err := tx.UpdateSeatStatus(seat.ID, model.SeatAvailable, model.SeatHeld, seat.Version)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrVersionConflict
		}

		if err := tx.CreateReservation(&res); err != nil {
			return err
		}
		return tx.AdjustAvailableSeats(seat.PerformanceID, -1)
	})
	return &res, err
}

func (w *SettlementWorker) deadLetter(ctx context.Context, intent *model.Intent, payload []byte, cause error) bool {
	var key []byte
	log := w.Logger.WithContext(ctx).WithError(cause)
	if intent != nil {
		key = []byte(intent.ID)
		log = log.WithField("intent_id", intent.ID)
	}

	hctx, cancel := w.handoffContext(ctx)
	defer cancel()

	if err := w.Events.PublishToDLQ(hctx, key, payload, cause.Error()); err != nil {
		log.WithField("dlq_error", err.Error()).Error("dead-letter publish failed")
		return false
	}
	metrics.Settlements.WithLabelValues("dead_lettered").Inc()
	log.Error("intent moved to dead-letter topic")
	return true
}

func (w *SettlementWorker) publish(ctx context.Context, t model.EventType, r *model.Reservation, reason string) {
	status := r.Status
	if t == model.EventRejected {
		// no reservation row exists for a dropped intent
		status = ""
	}
	err := w.Events.Publish(ctx, model.ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		UserID:        r.UserID,
		SeatID:        r.SeatID,
		Status:        status,
		Reason:        reason,
		OccurredAt:    w.Clock.Now().UTC(),
	})
	if err != nil {
		w.Logger.WithContext(ctx).WithError(err).WithField("reservation_id", r.ID).Warn("reservation event not published")
	}
}
