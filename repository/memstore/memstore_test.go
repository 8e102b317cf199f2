package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-reservation/model"
	"seat-reservation/repository"
)

func TestLockTTLSelfHeals(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVolatile(clock)
	ctx := context.Background()
	key := repository.SeatLockKey(1)

	_, err := v.Acquire(ctx, key, 2*time.Second)
	require.NoError(t, err)

	// the holder never releases
	_, err = v.Acquire(ctx, key, 2*time.Second)
	assert.ErrorIs(t, err, repository.ErrLockNotAcquired)

	clock.Advance(2 * time.Second)

	_, err = v.Acquire(ctx, key, 2*time.Second)
	assert.NoError(t, err)
}

func TestStaleReleaseKeepsNewHolder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVolatile(clock)
	ctx := context.Background()
	key := repository.SeatLockKey(1)

	stale, err := v.Acquire(ctx, key, time.Second)
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = v.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	require.NoError(t, v.Release(ctx, key, stale))
	_, err = v.Acquire(ctx, key, time.Second)
	assert.ErrorIs(t, err, repository.ErrLockNotAcquired)
}

func TestStatusCacheExpiresAndSetIfAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVolatile(clock)
	ctx := context.Background()

	require.NoError(t, v.SetStatus(ctx, 1, model.SeatHeld, time.Minute))

	wrote, err := v.SetStatusIfAbsent(ctx, 1, model.SeatAvailable, time.Minute)
	require.NoError(t, err)
	assert.False(t, wrote)

	status, hit, err := v.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, model.SeatHeld, status)

	clock.Advance(time.Minute)

	_, hit, err = v.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestQueueIsFIFO(t *testing.T) {
	v := NewVolatile(clockwork.NewFakeClock())
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, v.Push(ctx, []byte(p)))
	}

	batch, err := v.PopBatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, batch)

	// a push after the pop must not scribble over the popped slice
	require.NoError(t, v.Push(ctx, []byte("d")))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, batch)

	n, _ := v.Len(ctx)
	assert.Equal(t, int64(2), n)
}

func TestTryAdmit(t *testing.T) {
	v := NewVolatile(clockwork.NewFakeClock())
	ctx := context.Background()

	outcome, err := v.TryAdmit(ctx, 1, []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.SlowPathRequired{}, outcome)

	require.NoError(t, v.SetStatus(ctx, 1, model.SeatAvailable, time.Minute))
	outcome, err = v.TryAdmit(ctx, 1, []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.FastPathResult{Enqueued: true}, outcome)

	outcome, err = v.TryAdmit(ctx, 1, []byte("y"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.FastPathResult{Enqueued: false, Status: model.SeatHeld}, outcome)

	n, _ := v.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestTryAdmitDefersToLockedPath(t *testing.T) {
	v := NewVolatile(clockwork.NewFakeClock())
	ctx := context.Background()
	require.NoError(t, v.SetStatus(ctx, 1, model.SeatAvailable, time.Minute))

	token, err := v.Acquire(ctx, repository.SeatLockKey(1), time.Second)
	require.NoError(t, err)

	outcome, err := v.TryAdmit(ctx, 1, []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.FastPathResult{Enqueued: false, Locked: true}, outcome)

	require.NoError(t, v.Release(ctx, repository.SeatLockKey(1), token))
	outcome, err = v.TryAdmit(ctx, 1, []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.FastPathResult{Enqueued: true}, outcome)
}

func TestTryAdmitTreatsUnknownValueAsMiss(t *testing.T) {
	v := NewVolatile(clockwork.NewFakeClock())
	ctx := context.Background()
	require.NoError(t, v.SetStatus(ctx, 1, model.SeatStatus("RESERVED"), time.Minute))

	outcome, err := v.TryAdmit(ctx, 1, []byte("x"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, model.SlowPathRequired{}, outcome)

	n, _ := v.Len(ctx)
	assert.Zero(t, n)
}

func TestDurableTransactionRollsBack(t *testing.T) {
	d := NewDurable(clockwork.NewFakeClock())
	ctx := context.Background()

	p, err := d.CreatePerformance(ctx, "show", time.Now(), []string{"A-1"})
	require.NoError(t, err)
	seatID := p.Seats[0].ID

	boom := errors.New("boom")
	err = d.Transaction(ctx, func(tx repository.DurableTx) error {
		ok, err := tx.UpdateSeatStatus(seatID, model.SeatAvailable, model.SeatHeld, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, tx.AdjustAvailableSeats(p.ID, -1))
		return boom
	})
	require.ErrorIs(t, err, boom)

	seat, err := d.FindSeat(ctx, seatID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)
	assert.Zero(t, seat.Version)

	perf, err := d.FindPerformance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.AvailableSeats)
}

func TestDurableOneLiveReservationPerSeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDurable(clock)
	ctx := context.Background()

	first := model.NewIntent("user_1", 9, clock.Now()).Reservation()
	second := model.NewIntent("user_2", 9, clock.Now()).Reservation()

	require.NoError(t, d.Transaction(ctx, func(tx repository.DurableTx) error {
		return tx.CreateReservation(&first)
	}))
	err := d.Transaction(ctx, func(tx repository.DurableTx) error {
		return tx.CreateReservation(&second)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicateReservation)

	// cancelling frees the seat for a new live reservation
	require.NoError(t, d.Transaction(ctx, func(tx repository.DurableTx) error {
		ok, err := tx.UpdateReservationStatus(first.ID, model.ReservationPending, model.ReservationCancelled, clock.Now())
		require.True(t, ok)
		return err
	}))
	assert.NoError(t, d.Transaction(ctx, func(tx repository.DurableTx) error {
		return tx.CreateReservation(&second)
	}))
}
