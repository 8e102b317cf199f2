package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"seat-reservation/model"
	"seat-reservation/repository"
	"seat-reservation/repository/memstore"
)

const (
	testLockTTL  = 2 * time.Second
	testCacheTTL = time.Minute
	testHeldTTL  = 5 * time.Minute
)

type fixture struct {
	svc   *ReservationService
	vol   *memstore.Volatile
	dur   *memstore.Durable
	clock *clockwork.FakeClock
	logs  *test.Hook
	perf  *model.Performance
}

func newFixture(t *testing.T, fastPath bool) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC))
	vol := memstore.NewVolatile(clock)
	dur := memstore.NewDurable(clock)
	logger, hook := test.NewNullLogger()

	perf, err := dur.CreatePerformance(context.Background(), "Opening night", clock.Now().Add(24*time.Hour), []string{"A-1", "A-2", "A-3"})
	require.NoError(t, err)

	svc := NewReservationService(ReservationServiceProperty{
		Locker:       vol,
		Cache:        vol,
		Queue:        vol,
		FastAdmitter: vol,
		Store:        dur,
		Logger:       logger,
		Clock:        clock,
		LockTTL:      testLockTTL,
		CacheTTL:     testCacheTTL,
		HeldTTL:      testHeldTTL,
		FastPath:     fastPath,
	})

	return &fixture{svc: svc, vol: vol, dur: dur, clock: clock, logs: hook, perf: perf}
}

func (f *fixture) seat(i int) uint64 {
	return f.perf.Seats[i].ID
}

// setSeat forces a durable seat status, bumping the version the way any
// durable mutation does.
func (f *fixture) setSeat(t *testing.T, seatID uint64, status model.SeatStatus) {
	t.Helper()
	seat, err := f.dur.FindSeat(context.Background(), seatID)
	require.NoError(t, err)
	require.NoError(t, f.dur.Transaction(context.Background(), func(tx repository.DurableTx) error {
		ok, err := tx.UpdateSeatStatus(seatID, seat.Status, status, seat.Version)
		require.True(t, ok)
		return err
	}))
}

// settleQueued persists everything in the queue the way the settlement worker
// does, without its error handling.
func (f *fixture) settleQueued(t *testing.T) []model.Reservation {
	t.Helper()
	ctx := context.Background()

	batch, err := f.vol.PopBatch(ctx, 100)
	require.NoError(t, err)

	var out []model.Reservation
	for _, payload := range batch {
		intent, err := model.DecodeIntent(payload)
		require.NoError(t, err)

		res := intent.Reservation()
		err = f.dur.Transaction(ctx, func(tx repository.DurableTx) error {
			seat, err := tx.FindSeat(intent.SeatID)
			if err != nil {
				return err
			}
			ok, err := tx.UpdateSeatStatus(seat.ID, model.SeatAvailable, model.SeatHeld, seat.Version)
			if err != nil || !ok {
				return repository.ErrVersionConflict
			}
			if err := tx.CreateReservation(&res); err != nil {
				return err
			}
			return tx.AdjustAvailableSeats(seat.PerformanceID, -1)
		})
		if err == nil {
			out = append(out, res)
		}
	}
	return out
}

func (f *fixture) warnings() []string {
	var out []string
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}
