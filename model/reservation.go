package model

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is the durable record of a settled intent. ID is the intent id so
// a redelivered intent collides with the row it already produced.
//
// ActiveSeatID mirrors SeatID while the reservation is live and is NULL once it
// is cancelled; its unique index allows one live reservation per seat while
// keeping cancelled history.
type Reservation struct {
	ID           string            `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID       string            `gorm:"size:64;index;not null" json:"user_id"`
	SeatID       uint64            `gorm:"index;not null" json:"seat_id"`
	ActiveSeatID *uint64           `gorm:"uniqueIndex" json:"-"`
	Status       ReservationStatus `gorm:"type:varchar(16);index:idx_reservation_status_reserved;not null" json:"status"`
	ReservedAt   time.Time         `gorm:"index:idx_reservation_status_reserved;not null" json:"reserved_at"`
	PaidAt       *time.Time        `json:"paid_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservations"
}
