package service

import (
	"errors"
	"fmt"
)

var (
	// ErrContention covers every lost race: a held lock, a cached or durable
	// conflict, or a version conflict on confirm/cancel.
	ErrContention   = errors.New("seat contention")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("reservation is not pending")
)

const (
	ReasonResourceLocked  = "resource locked"
	ReasonCachedConflict  = "cached conflict"
	ReasonDurableConflict = "durable conflict"
)

// RejectedError is returned when an admission loses. It matches ErrContention
// with errors.Is.
type RejectedError struct {
	Reason string
	SeatID uint64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("seat %d rejected: %s", e.SeatID, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrContention
}

func reject(seatID uint64, reason string) error {
	return &RejectedError{Reason: reason, SeatID: seatID}
}
