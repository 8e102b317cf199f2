package model

import "time"

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatOccupied  SeatStatus = "OCCUPIED"
)

func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatHeld, SeatOccupied:
		return true
	}
	return false
}

// Performance owns a fixed set of seats. AvailableSeats is decremented when a
// reservation settles and incremented when one is cancelled or expires.
type Performance struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Title          string    `gorm:"size:255;not null" json:"title"`
	StartsAt       time.Time `gorm:"not null" json:"starts_at"`
	TotalSeats     int       `gorm:"not null" json:"total_seats"`
	AvailableSeats int       `gorm:"not null" json:"available_seats"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Seats []Seat `gorm:"constraint:OnDelete:CASCADE" json:"seats,omitempty"`
}

func (Performance) TableName() string {
	return "performances"
}

// Seat is the unit being competed for. Version is bumped on every status change
// and is the only concurrency control used on the durable side.
type Seat struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PerformanceID uint64     `gorm:"index;not null" json:"performance_id"`
	Label         string     `gorm:"size:32;not null" json:"label"`
	Status        SeatStatus `gorm:"type:varchar(16);not null;default:AVAILABLE" json:"status"`
	Version       uint64     `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Seat) TableName() string {
	return "seats"
}
