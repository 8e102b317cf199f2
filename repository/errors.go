package repository

import "errors"

var (
	ErrSeatNotFound         = errors.New("seat not found")
	ErrPerformanceNotFound  = errors.New("performance not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrLockNotAcquired      = errors.New("lock not acquired")
	ErrDuplicateReservation = errors.New("duplicate reservation")
	ErrVersionConflict      = errors.New("seat version conflict")
)
