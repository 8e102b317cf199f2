package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidIntent = errors.New("invalid reservation intent")

// Intent is an admitted claim that has not been persisted yet. It travels
// through the write-back queue as JSON and is never mutated after admission.
type Intent struct {
	ID          string    `json:"intent_id"`
	UserID      string    `json:"user_id"`
	SeatID      uint64    `json:"seat_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewIntent(userID string, seatID uint64, now time.Time) Intent {
	return Intent{
		ID:          uuid.NewString(),
		UserID:      userID,
		SeatID:      seatID,
		RequestedAt: now.UTC(),
	}
}

func (i Intent) Encode() ([]byte, error) {
	if err := i.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(i)
}

func DecodeIntent(data []byte) (Intent, error) {
	var i Intent
	if err := json.Unmarshal(data, &i); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if err := i.validate(); err != nil {
		return Intent{}, err
	}
	return i, nil
}

func (i Intent) validate() error {
	if _, err := uuid.Parse(i.ID); err != nil {
		return fmt.Errorf("%w: bad intent_id %q", ErrInvalidIntent, i.ID)
	}
	if i.UserID == "" {
		return fmt.Errorf("%w: missing user_id", ErrInvalidIntent)
	}
	if i.SeatID == 0 {
		return fmt.Errorf("%w: missing seat_id", ErrInvalidIntent)
	}
	if i.RequestedAt.IsZero() {
		return fmt.Errorf("%w: missing requested_at", ErrInvalidIntent)
	}
	return nil
}

// Reservation builds the PENDING row for this intent, keeping the admission
// timestamp rather than the settlement time.
func (i Intent) Reservation() Reservation {
	seatID := i.SeatID
	return Reservation{
		ID:           i.ID,
		UserID:       i.UserID,
		SeatID:       i.SeatID,
		ActiveSeatID: &seatID,
		Status:       ReservationPending,
		ReservedAt:   i.RequestedAt,
	}
}
