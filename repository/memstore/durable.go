package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"seat-reservation/model"
	"seat-reservation/repository"
)

type tables struct {
	performances map[uint64]model.Performance
	seats        map[uint64]model.Seat
	reservations map[string]model.Reservation
}

func (t tables) clone() tables {
	c := tables{
		performances: make(map[uint64]model.Performance, len(t.performances)),
		seats:        make(map[uint64]model.Seat, len(t.seats)),
		reservations: make(map[string]model.Reservation, len(t.reservations)),
	}
	for k, v := range t.performances {
		c.performances[k] = v
	}
	for k, v := range t.seats {
		c.seats[k] = v
	}
	for k, v := range t.reservations {
		c.reservations[k] = v
	}
	return c
}

// Durable is a serializable in-memory store: transactions run one at a time
// and roll back to a snapshot on error.
type Durable struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	data    tables
	nextID  uint64
	txFault error
}

var _ repository.DurableStore = (*Durable)(nil)

func NewDurable(clock clockwork.Clock) *Durable {
	return &Durable{
		clock: clock,
		data: tables{
			performances: make(map[uint64]model.Performance),
			seats:        make(map[uint64]model.Seat),
			reservations: make(map[string]model.Reservation),
		},
	}
}

// FailTransactions makes Transaction return err without running fn until
// called again with nil.
func (d *Durable) FailTransactions(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txFault = err
}

func (d *Durable) Transaction(ctx context.Context, fn func(tx repository.DurableTx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.txFault != nil {
		return d.txFault
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := d.data.clone()
	if err := fn(&memTx{d: d}); err != nil {
		d.data = snapshot
		return err
	}
	return nil
}

func (d *Durable) FindSeat(_ context.Context, seatID uint64) (*model.Seat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findSeat(seatID)
}

func (d *Durable) FindPerformance(_ context.Context, performanceID uint64) (*model.Performance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.data.performances[performanceID]
	if !ok {
		return nil, repository.ErrPerformanceNotFound
	}
	return &p, nil
}

func (d *Durable) GetReservation(_ context.Context, id string) (*model.Reservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findReservation(id)
}

func (d *Durable) FindExpiredPending(_ context.Context, before time.Time, limit int) ([]model.Reservation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Reservation
	for _, r := range d.data.reservations {
		if r.Status == model.ReservationPending && r.ReservedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.Before(out[j].ReservedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *Durable) CreatePerformance(_ context.Context, title string, startsAt time.Time, labels []string) (*model.Performance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.nextID++
	p := model.Performance{
		ID:             d.nextID,
		Title:          title,
		StartsAt:       startsAt.UTC(),
		TotalSeats:     len(labels),
		AvailableSeats: len(labels),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.data.performances[p.ID] = p

	for _, label := range labels {
		d.nextID++
		seat := model.Seat{
			ID:            d.nextID,
			PerformanceID: p.ID,
			Label:         label,
			Status:        model.SeatAvailable,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		d.data.seats[seat.ID] = seat
		p.Seats = append(p.Seats, seat)
	}
	return &p, nil
}

func (d *Durable) findSeat(seatID uint64) (*model.Seat, error) {
	s, ok := d.data.seats[seatID]
	if !ok {
		return nil, repository.ErrSeatNotFound
	}
	return &s, nil
}

func (d *Durable) findReservation(id string) (*model.Reservation, error) {
	r, ok := d.data.reservations[id]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}
	return &r, nil
}

// memTx runs with d.mu already held by Transaction.
type memTx struct {
	d *Durable
}

func (t *memTx) FindSeat(seatID uint64) (*model.Seat, error) {
	return t.d.findSeat(seatID)
}

func (t *memTx) UpdateSeatStatus(seatID uint64, from, to model.SeatStatus, expectedVersion uint64) (bool, error) {
	s, ok := t.d.data.seats[seatID]
	if !ok || s.Status != from || s.Version != expectedVersion {
		return false, nil
	}
	s.Status = to
	s.Version++
	s.UpdatedAt = t.d.clock.Now()
	t.d.data.seats[seatID] = s
	return true, nil
}

func (t *memTx) FindReservation(id string) (*model.Reservation, error) {
	return t.d.findReservation(id)
}

func (t *memTx) CreateReservation(r *model.Reservation) error {
	if _, exists := t.d.data.reservations[r.ID]; exists {
		return repository.ErrDuplicateReservation
	}
	if r.ActiveSeatID != nil {
		for _, other := range t.d.data.reservations {
			if other.ActiveSeatID != nil && *other.ActiveSeatID == *r.ActiveSeatID {
				return repository.ErrDuplicateReservation
			}
		}
	}
	now := t.d.clock.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	t.d.data.reservations[r.ID] = *r
	return nil
}

func (t *memTx) UpdateReservationStatus(id string, from, to model.ReservationStatus, at time.Time) (bool, error) {
	r, ok := t.d.data.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	switch to {
	case model.ReservationConfirmed:
		paid := at
		r.PaidAt = &paid
	case model.ReservationCancelled:
		r.ActiveSeatID = nil
	}
	r.UpdatedAt = t.d.clock.Now()
	t.d.data.reservations[id] = r
	return true, nil
}

func (t *memTx) AdjustAvailableSeats(performanceID uint64, delta int) error {
	p, ok := t.d.data.performances[performanceID]
	if !ok {
		return repository.ErrPerformanceNotFound
	}
	p.AvailableSeats += delta
	t.d.data.performances[performanceID] = p
	return nil
}
