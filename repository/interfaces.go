package repository

import (
	"context"
	"time"

	"seat-reservation/model"
)

/*
 * Volatile side (Redis): seat lock, status cache, write-back queue.
 */

// Locker is a per-seat mutual exclusion primitive. Acquire never waits: a held
// lock yields ErrLockNotAcquired immediately. The returned token must be passed
// to Release so a late release cannot drop a newer holder's lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)
	Release(ctx context.Context, key, token string) error
}

// SeatStatusCache is the advisory mirror of durable seat status.
type SeatStatusCache interface {
	// GetStatus reports hit=false when there is no entry.
	GetStatus(ctx context.Context, seatID uint64) (status model.SeatStatus, hit bool, err error)
	SetStatus(ctx context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) error
	// SetStatusIfAbsent writes only when no entry exists and reports whether it wrote.
	SetStatusIfAbsent(ctx context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) (bool, error)
}

// IntentQueue is the FIFO write-back queue of encoded intents.
type IntentQueue interface {
	Push(ctx context.Context, payload []byte) error
	PopBatch(ctx context.Context, max int) ([][]byte, error)
	Len(ctx context.Context) (int64, error)
}

// FastAdmitter runs the lock-free admission check: if the cached status is
// AVAILABLE it enqueues payload and marks the seat HELD in one atomic step.
type FastAdmitter interface {
	TryAdmit(ctx context.Context, seatID uint64, payload []byte, heldTTL time.Duration) (model.FastPathOutcome, error)
}

/*
 * Durable side (MySQL): system of record.
 */

type DurableStore interface {
	// Transaction runs fn atomically; any error returned by fn rolls back.
	Transaction(ctx context.Context, fn func(tx DurableTx) error) error

	FindSeat(ctx context.Context, seatID uint64) (*model.Seat, error)
	FindPerformance(ctx context.Context, performanceID uint64) (*model.Performance, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	// FindExpiredPending returns PENDING reservations admitted before the cutoff, oldest first.
	FindExpiredPending(ctx context.Context, before time.Time, limit int) ([]model.Reservation, error)
	// CreatePerformance creates a performance and one AVAILABLE seat per label.
	CreatePerformance(ctx context.Context, title string, startsAt time.Time, labels []string) (*model.Performance, error)
}

// DurableTx is the set of operations available inside a transaction.
type DurableTx interface {
	FindSeat(seatID uint64) (*model.Seat, error)
	// UpdateSeatStatus moves a seat from one status to another only when both
	// the status and the version still match, bumping the version. It reports
	// false when no row matched.
	UpdateSeatStatus(seatID uint64, from, to model.SeatStatus, expectedVersion uint64) (bool, error)
	FindReservation(id string) (*model.Reservation, error)
	CreateReservation(r *model.Reservation) error
	// UpdateReservationStatus moves a reservation from one status to another.
	// Confirming stamps paid_at with at, cancelling frees the seat uniqueness slot.
	UpdateReservationStatus(id string, from, to model.ReservationStatus, at time.Time) (bool, error)
	AdjustAvailableSeats(performanceID uint64, delta int) error
}

/*
 * Events (Kafka).
 */

type EventPublisher interface {
	Publish(ctx context.Context, event model.ReservationEvent) error
	PublishToDLQ(ctx context.Context, key, value []byte, reason string) error
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.ReservationEvent) error { return nil }

func (NopPublisher) PublishToDLQ(context.Context, []byte, []byte, string) error { return nil }
