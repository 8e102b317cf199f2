package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"seat-reservation/metrics"
	"seat-reservation/model"
	"seat-reservation/repository"
)

// AdmissionResult is the provisional answer to an admission: the intent is
// queued and the reservation will exist once the settlement worker runs.
type AdmissionResult struct {
	IntentID   string                  `json:"intent_id"`
	SeatID     uint64                  `json:"seat_id"`
	Status     model.ReservationStatus `json:"status"`
	AdmittedAt time.Time               `json:"admitted_at"`
}

// Admit claims seatID for userID. It returns ErrNotFound for an unknown seat, a
// *RejectedError (matching ErrContention) when the seat is taken or being
// decided by someone else, and any other error when a store is unreachable.
// A losing caller is never retried.
func (s *ReservationService) Admit(ctx context.Context, userID string, seatID uint64) (*AdmissionResult, error) {
	start := s.Clock.Now()
	intent := model.NewIntent(userID, seatID, start)
	payload, err := intent.Encode()
	if err != nil {
		return nil, err
	}

	path := "locked"
	var res *AdmissionResult
	if s.FastPath {
		path = "fast"
		res, err = s.admitFast(ctx, intent, payload)
	} else {
		res, err = s.admitLocked(ctx, intent, payload)
	}

	metrics.AdmissionLatency.WithLabelValues(path).Observe(s.Clock.Since(start).Seconds())
	metrics.Admissions.WithLabelValues(admissionOutcome(err)).Inc()
	return res, err
}

func (s *ReservationService) admitFast(ctx context.Context, intent model.Intent, payload []byte) (*AdmissionResult, error) {
	outcome, err := s.FastAdmitter.TryAdmit(ctx, intent.SeatID, payload, s.HeldTTL)
	if err != nil {
		return nil, fmt.Errorf("fast admission for seat %d: %w", intent.SeatID, err)
	}

	switch o := outcome.(type) {
	case model.FastPathResult:
		if o.Locked {
			return nil, reject(intent.SeatID, ReasonResourceLocked)
		}
		if !o.Enqueued {
			return nil, reject(intent.SeatID, ReasonCachedConflict)
		}
		return pending(intent), nil
	case model.SlowPathRequired:
		return s.admitLocked(ctx, intent, payload)
	default:
		return nil, fmt.Errorf("unexpected fast path outcome %T", outcome)
	}
}

func (s *ReservationService) admitLocked(ctx context.Context, intent model.Intent, payload []byte) (*AdmissionResult, error) {
	seatID := intent.SeatID
	lockKey := repository.SeatLockKey(seatID)

	token, err := s.Locker.Acquire(ctx, lockKey, s.LockTTL)
	if errors.Is(err, repository.ErrLockNotAcquired) {
		return nil, reject(seatID, ReasonResourceLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("lock seat %d: %w", seatID, err)
	}
	defer s.releaseLock(ctx, lockKey, token)

	status, hit, err := s.Oracle.Cached(ctx, seatID)
	if err != nil {
		return nil, fmt.Errorf("read seat %d status: %w", seatID, err)
	}

	if hit {
		if status != model.SeatAvailable {
			return nil, reject(seatID, ReasonCachedConflict)
		}
	} else {
		seat, err := s.Store.FindSeat(ctx, seatID)
		if errors.Is(err, repository.ErrSeatNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load seat %d: %w", seatID, err)
		}
		if seat.Status != model.SeatAvailable {
			s.Oracle.Warm(ctx, seatID, seat.Status)
			return nil, reject(seatID, ReasonDurableConflict)
		}
	}

	if err := s.Queue.Push(ctx, payload); err != nil {
		return nil, fmt.Errorf("enqueue intent for seat %d: %w", seatID, err)
	}

	// The intent is queued: the outcome is decided even if the mark fails.
	s.Oracle.Mark(ctx, seatID, model.SeatHeld, s.HeldTTL)

	return pending(intent), nil
}

// releaseLock is best-effort: the lock TTL frees the seat if this fails.
func (s *ReservationService) releaseLock(ctx context.Context, key, token string) {
	if err := s.Locker.Release(ctx, key, token); err != nil {
		metrics.LockReleaseFailures.Inc()
		s.Logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"lock_key": key,
		}).Warn("seat lock release failed, leaving it to expire")
	}
}

func pending(intent model.Intent) *AdmissionResult {
	return &AdmissionResult{
		IntentID:   intent.ID,
		SeatID:     intent.SeatID,
		Status:     model.ReservationPending,
		AdmittedAt: intent.RequestedAt,
	}
}

func admissionOutcome(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return "pending"
	case errors.As(err, &rejected):
		switch rejected.Reason {
		case ReasonResourceLocked:
			return "resource_locked"
		case ReasonCachedConflict:
			return "cached_conflict"
		default:
			return "durable_conflict"
		}
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
