package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"seat-reservation/model"
	"seat-reservation/repository"
)

// SeatOracle is the cache-aside view of seat status. The durable store is
// always authoritative; the cache only lets the admission path reject early.
type SeatOracle struct {
	Cache  repository.SeatStatusCache
	Store  repository.DurableStore
	TTL    time.Duration
	Logger *logrus.Logger
}

func NewSeatOracle(cache repository.SeatStatusCache, store repository.DurableStore, ttl time.Duration, logger *logrus.Logger) *SeatOracle {
	return &SeatOracle{
		Cache:  cache,
		Store:  store,
		TTL:    ttl,
		Logger: logger,
	}
}

// Cached returns the cached status. hit is false on a miss.
func (o *SeatOracle) Cached(ctx context.Context, seatID uint64) (model.SeatStatus, bool, error) {
	return o.Cache.GetStatus(ctx, seatID)
}

// Status resolves a seat's status through the cache, falling back to the
// durable store and warming the cache on a miss.
func (o *SeatOracle) Status(ctx context.Context, seatID uint64) (model.SeatStatus, error) {
	status, hit, err := o.Cache.GetStatus(ctx, seatID)
	if err != nil {
		o.Logger.WithContext(ctx).WithError(err).WithField("seat_id", seatID).Warn("seat status cache unavailable, reading durable store")
	} else if hit {
		return status, nil
	}

	seat, err := o.Store.FindSeat(ctx, seatID)
	if errors.Is(err, repository.ErrSeatNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	o.Warm(ctx, seatID, seat.Status)
	return seat.Status, nil
}

// Warm records a status read from the durable store. AVAILABLE is written
// only into an empty slot so it cannot overwrite a HELD mark placed by a
// concurrent admission; any other status is written unconditionally.
// Best-effort: failures are logged and never returned.
func (o *SeatOracle) Warm(ctx context.Context, seatID uint64, status model.SeatStatus) {
	var err error
	if status == model.SeatAvailable {
		_, err = o.Cache.SetStatusIfAbsent(ctx, seatID, status, o.TTL)
	} else {
		err = o.Cache.SetStatus(ctx, seatID, status, o.TTL)
	}
	if err != nil {
		o.logFailure(ctx, err, seatID, status, "warm")
	}
}

// Mark overwrites the cached status with the given ttl. Best-effort: failures
// are logged and never returned.
func (o *SeatOracle) Mark(ctx context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) {
	if err := o.Cache.SetStatus(ctx, seatID, status, ttl); err != nil {
		o.logFailure(ctx, err, seatID, status, "mark")
	}
}

func (o *SeatOracle) logFailure(ctx context.Context, err error, seatID uint64, status model.SeatStatus, op string) {
	o.Logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
		"seat_id": seatID,
		"status":  status,
		"op":      op,
	}).Warn("seat status cache write failed")
}
