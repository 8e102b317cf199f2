package model

import "time"

type EventType string

const (
	EventSettled   EventType = "reservation.settled"
	EventRejected  EventType = "reservation.rejected"
	EventConfirmed EventType = "reservation.confirmed"
	EventCancelled EventType = "reservation.cancelled"
	EventExpired   EventType = "reservation.expired"
)

// ReservationEvent is published after each durable transition so callers can
// learn the outcome of an asynchronous admission.
type ReservationEvent struct {
	Type          EventType         `json:"type"`
	ReservationID string            `json:"reservation_id"`
	UserID        string            `json:"user_id"`
	SeatID        uint64            `json:"seat_id"`
	Status        ReservationStatus `json:"status,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}
