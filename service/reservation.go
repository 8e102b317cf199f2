package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"seat-reservation/metrics"
	"seat-reservation/model"
	"seat-reservation/repository"
)

type ReservationServiceProperty struct {
	Locker       repository.Locker
	Cache        repository.SeatStatusCache
	Queue        repository.IntentQueue
	FastAdmitter repository.FastAdmitter
	Store        repository.DurableStore
	Events       repository.EventPublisher
	Logger       *logrus.Logger
	Clock        clockwork.Clock

	LockTTL  time.Duration
	CacheTTL time.Duration
	HeldTTL  time.Duration
	FastPath bool
}

type ReservationService struct {
	Locker       repository.Locker
	Queue        repository.IntentQueue
	FastAdmitter repository.FastAdmitter
	Store        repository.DurableStore
	Events       repository.EventPublisher
	Oracle       *SeatOracle
	Logger       *logrus.Logger
	Clock        clockwork.Clock

	LockTTL  time.Duration
	CacheTTL time.Duration
	HeldTTL  time.Duration
	FastPath bool
}

func NewReservationService(p ReservationServiceProperty) *ReservationService {
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	if p.Events == nil {
		p.Events = repository.NopPublisher{}
	}
	return &ReservationService{
		Locker:       p.Locker,
		Queue:        p.Queue,
		FastAdmitter: p.FastAdmitter,
		Store:        p.Store,
		Events:       p.Events,
		Oracle:       NewSeatOracle(p.Cache, p.Store, p.CacheTTL, p.Logger),
		Logger:       p.Logger,
		Clock:        p.Clock,
		LockTTL:      p.LockTTL,
		CacheTTL:     p.CacheTTL,
		HeldTTL:      p.HeldTTL,
		FastPath:     p.FastPath && p.FastAdmitter != nil,
	}
}

func (s *ReservationService) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *ReservationService) SeatStatus(ctx context.Context, seatID uint64) (model.SeatStatus, error) {
	return s.Oracle.Status(ctx, seatID)
}

// Confirm turns a PENDING reservation into CONFIRMED and its seat from HELD
// into OCCUPIED.
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (*model.Reservation, error) {
	now := s.Clock.Now().UTC()

	var confirmed *model.Reservation
	err := s.Store.Transaction(ctx, func(tx repository.DurableTx) error {
		r, seat, err := loadPending(tx, reservationID)
		if err != nil {
			return err
		}

		ok, err := tx.UpdateSeatStatus(seat.ID, model.SeatHeld, model.SeatOccupied, seat.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("seat %d: %w", seat.ID, ErrContention)
		}

		ok, err = tx.UpdateReservationStatus(r.ID, model.ReservationPending, model.ReservationConfirmed, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidState
		}

		r.Status = model.ReservationConfirmed
		r.PaidAt = &now
		confirmed = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReservationTransitions.WithLabelValues("confirmed").Inc()
	s.Oracle.Mark(ctx, confirmed.SeatID, model.SeatOccupied, s.CacheTTL)
	s.publish(ctx, model.EventConfirmed, confirmed)
	return confirmed, nil
}

// Cancel releases a PENDING reservation on the caller's behalf.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return s.cancel(ctx, reservationID, model.EventCancelled, "cancelled")
}

// Expire is Cancel issued by the expiry sweeper.
func (s *ReservationService) Expire(ctx context.Context, reservationID string) (*model.Reservation, error) {
	return s.cancel(ctx, reservationID, model.EventExpired, "expired")
}

func (s *ReservationService) cancel(ctx context.Context, reservationID string, event model.EventType, transition string) (*model.Reservation, error) {
	now := s.Clock.Now().UTC()

	var cancelled *model.Reservation
	err := s.Store.Transaction(ctx, func(tx repository.DurableTx) error {
		r, seat, err := loadPending(tx, reservationID)
		if err != nil {
			return err
		}

		ok, err := tx.UpdateSeatStatus(seat.ID, model.SeatHeld, model.SeatAvailable, seat.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("seat %d: %w", seat.ID, ErrContention)
		}

		ok, err = tx.UpdateReservationStatus(r.ID, model.ReservationPending, model.ReservationCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidState
		}

		if err := tx.AdjustAvailableSeats(seat.PerformanceID, 1); err != nil {
			return err
		}

		r.Status = model.ReservationCancelled
		r.ActiveSeatID = nil
		cancelled = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReservationTransitions.WithLabelValues(transition).Inc()
	// Reset so the next admission is not turned away by a stale HELD entry.
	s.Oracle.Mark(ctx, cancelled.SeatID, model.SeatAvailable, s.CacheTTL)
	s.publish(ctx, event, cancelled)
	return cancelled, nil
}

func loadPending(tx repository.DurableTx, reservationID string) (*model.Reservation, *model.Seat, error) {
	r, err := tx.FindReservation(reservationID)
	if errors.Is(err, repository.ErrReservationNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if r.Status != model.ReservationPending {
		return nil, nil, fmt.Errorf("reservation %s is %s: %w", r.ID, r.Status, ErrInvalidState)
	}

	seat, err := tx.FindSeat(r.SeatID)
	if errors.Is(err, repository.ErrSeatNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return r, seat, nil
}

// publish is best-effort: the durable change is already committed.
func (s *ReservationService) publish(ctx context.Context, t model.EventType, r *model.Reservation) {
	err := s.Events.Publish(ctx, model.ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		UserID:        r.UserID,
		SeatID:        r.SeatID,
		Status:        r.Status,
		OccurredAt:    s.Clock.Now().UTC(),
	})
	if err != nil {
		s.Logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"reservation_id": r.ID,
			"event":          t,
		}).Warn("reservation event not published")
	}
}
