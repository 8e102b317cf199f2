package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seat-reservation/model"
	"seat-reservation/repository"
	"seat-reservation/repository/memstore"
)

func TestAdmitEnqueuesAndMarksHeld(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	seatID := f.seat(0)

	res, err := f.svc.Admit(ctx, "user_1", seatID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, res.Status)
	assert.Equal(t, seatID, res.SeatID)
	assert.Equal(t, f.clock.Now().UTC(), res.AdmittedAt)

	status, hit, err := f.vol.GetStatus(ctx, seatID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, model.SeatHeld, status)

	batch, err := f.vol.PopBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	intent, err := model.DecodeIntent(batch[0])
	require.NoError(t, err)
	assert.Equal(t, res.IntentID, intent.ID)
	assert.Equal(t, "user_1", intent.UserID)

	// nothing durable happens at admission time
	seat, err := f.dur.FindSeat(ctx, seatID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatAvailable, seat.Status)

	// lock released
	_, err = f.vol.Acquire(ctx, repository.SeatLockKey(seatID), testLockTTL)
	assert.NoError(t, err)
}

func TestAdmitAtMostOneWinner(t *testing.T) {
	for _, fast := range []bool{false, true} {
		name := "locked"
		if fast {
			name = "fast"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, fast)
			seatID := f.seat(0)
			const n = 64

			var (
				wg         sync.WaitGroup
				winners    atomic.Int32
				contention atomic.Int32
				start      = make(chan struct{})
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, err := f.svc.Admit(context.Background(), "user", seatID)
					switch {
					case err == nil:
						winners.Add(1)
					case errors.Is(err, ErrContention):
						contention.Add(1)
					default:
						t.Errorf("unexpected error: %v", err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			assert.Equal(t, int32(1), winners.Load())
			assert.Equal(t, int32(n-1), contention.Load())

			settled := f.settleQueued(t)
			require.Len(t, settled, 1)

			seat, err := f.dur.FindSeat(context.Background(), seatID)
			require.NoError(t, err)
			assert.Equal(t, model.SeatHeld, seat.Status)
		})
	}
}

func TestAdmitRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("resource locked", func(t *testing.T) {
		f := newFixture(t, false)
		seatID := f.seat(0)
		_, err := f.vol.Acquire(ctx, repository.SeatLockKey(seatID), testLockTTL)
		require.NoError(t, err)

		_, err = f.svc.Admit(ctx, "user_1", seatID)
		assertRejected(t, err, ReasonResourceLocked)
	})

	t.Run("cached conflict", func(t *testing.T) {
		f := newFixture(t, false)
		seatID := f.seat(0)
		require.NoError(t, f.vol.SetStatus(ctx, seatID, model.SeatOccupied, testCacheTTL))

		_, err := f.svc.Admit(ctx, "user_1", seatID)
		assertRejected(t, err, ReasonCachedConflict)
	})

	t.Run("durable conflict warms the cache", func(t *testing.T) {
		f := newFixture(t, false)
		seatID := f.seat(0)
		f.setSeat(t, seatID, model.SeatHeld)

		_, err := f.svc.Admit(ctx, "user_1", seatID)
		assertRejected(t, err, ReasonDurableConflict)

		status, hit, err := f.vol.GetStatus(ctx, seatID)
		require.NoError(t, err)
		assert.True(t, hit)
		assert.Equal(t, model.SeatHeld, status)
	})

	t.Run("unknown seat", func(t *testing.T) {
		f := newFixture(t, false)

		_, err := f.svc.Admit(ctx, "user_1", 9999)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrContention)
	})
}

func TestAdmitStaleAvailableCacheStillDecidedBySettlement(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	seatID := f.seat(0)

	f.setSeat(t, seatID, model.SeatHeld)
	require.NoError(t, f.vol.SetStatus(ctx, seatID, model.SeatAvailable, testCacheTTL))

	// the cache says AVAILABLE so the intent is admitted...
	_, err := f.svc.Admit(ctx, "user_1", seatID)
	require.NoError(t, err)

	// ...but the durable check refuses it
	assert.Empty(t, f.settleQueued(t))
}

func TestAdmitSurfacesInfrastructureFailures(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")

	t.Run("lock store", func(t *testing.T) {
		f := newFixture(t, false)
		f.vol.Fail(memstore.OpAcquire, down)

		_, err := f.svc.Admit(ctx, "user_1", f.seat(0))
		assert.ErrorIs(t, err, down)
		assert.NotErrorIs(t, err, ErrContention)
	})

	t.Run("cache read", func(t *testing.T) {
		f := newFixture(t, false)
		f.vol.Fail(memstore.OpGet, down)

		_, err := f.svc.Admit(ctx, "user_1", f.seat(0))
		assert.ErrorIs(t, err, down)
	})

	t.Run("queue push releases the lock", func(t *testing.T) {
		f := newFixture(t, false)
		seatID := f.seat(0)
		f.vol.Fail(memstore.OpPush, down)

		_, err := f.svc.Admit(ctx, "user_1", seatID)
		assert.ErrorIs(t, err, down)

		_, err = f.vol.Acquire(ctx, repository.SeatLockKey(seatID), testLockTTL)
		assert.NoError(t, err)
	})

	t.Run("fast path script", func(t *testing.T) {
		f := newFixture(t, true)
		f.vol.Fail(memstore.OpAdmit, down)

		_, err := f.svc.Admit(ctx, "user_1", f.seat(0))
		assert.ErrorIs(t, err, down)
	})
}

func TestAdmitBestEffortFailuresKeepPending(t *testing.T) {
	ctx := context.Background()

	t.Run("held mark", func(t *testing.T) {
		f := newFixture(t, false)
		f.vol.Fail(memstore.OpSet, errors.New("readonly replica"))

		res, err := f.svc.Admit(ctx, "user_1", f.seat(0))
		require.NoError(t, err)
		assert.Equal(t, model.ReservationPending, res.Status)
		assert.Contains(t, f.warnings(), "seat status cache write failed")
	})

	t.Run("lock release", func(t *testing.T) {
		f := newFixture(t, false)
		f.vol.Fail(memstore.OpRelease, errors.New("timeout"))

		res, err := f.svc.Admit(ctx, "user_1", f.seat(0))
		require.NoError(t, err)
		assert.Equal(t, model.ReservationPending, res.Status)
		assert.Contains(t, f.warnings(), "seat lock release failed, leaving it to expire")
	})
}

// pushHookQueue runs onPush once, before the first push reaches the queue.
type pushHookQueue struct {
	repository.IntentQueue
	once   sync.Once
	onPush func()
}

func (q *pushHookQueue) Push(ctx context.Context, payload []byte) error {
	q.once.Do(q.onPush)
	return q.IntentQueue.Push(ctx, payload)
}

// A status read warming AVAILABLE while a locked admission sits between its
// cache miss and its HELD mark must not let a fast admission through.
func TestFastAdmissionDuringLockedWindowIsContended(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	seatID := f.seat(0)

	var second error
	f.svc.Queue = &pushHookQueue{
		IntentQueue: f.vol,
		onPush: func() {
			status, err := f.svc.SeatStatus(ctx, seatID)
			require.NoError(t, err)
			require.Equal(t, model.SeatAvailable, status)
			_, second = f.svc.Admit(ctx, "user_2", seatID)
		},
	}

	_, first := f.svc.Admit(ctx, "user_1", seatID)
	require.NoError(t, first)
	assertRejected(t, second, ReasonResourceLocked)

	queued, err := f.vol.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), queued)

	status, _, _ := f.vol.GetStatus(ctx, seatID)
	assert.Equal(t, model.SeatHeld, status)
}

// Both admission paths must agree on every cache/durable combination.
func TestFastAndLockedPathsAgree(t *testing.T) {
	ctx := context.Background()

	type setup func(t *testing.T, f *fixture, seatID uint64)
	cases := map[string]setup{
		"cold cache, available": func(*testing.T, *fixture, uint64) {},
		"cold cache, held": func(t *testing.T, f *fixture, seatID uint64) {
			f.setSeat(t, seatID, model.SeatHeld)
		},
		"warm available": func(t *testing.T, f *fixture, seatID uint64) {
			require.NoError(t, f.vol.SetStatus(ctx, seatID, model.SeatAvailable, testCacheTTL))
		},
		"warm held": func(t *testing.T, f *fixture, seatID uint64) {
			require.NoError(t, f.vol.SetStatus(ctx, seatID, model.SeatHeld, testCacheTTL))
		},
		"warm occupied": func(t *testing.T, f *fixture, seatID uint64) {
			require.NoError(t, f.vol.SetStatus(ctx, seatID, model.SeatOccupied, testCacheTTL))
		},
	}

	for name, prepare := range cases {
		t.Run(name, func(t *testing.T) {
			var outcomes [2]string
			var queued [2]int64
			for i, fast := range []bool{false, true} {
				f := newFixture(t, fast)
				seatID := f.seat(0)
				prepare(t, f, seatID)

				_, err := f.svc.Admit(ctx, "user_1", seatID)
				outcomes[i] = admissionKind(err)
				queued[i], _ = f.vol.Len(ctx)

				status, _, _ := f.vol.GetStatus(ctx, seatID)
				if err == nil {
					assert.Equal(t, model.SeatHeld, status)
				}
			}
			assert.Equal(t, outcomes[0], outcomes[1])
			assert.Equal(t, queued[0], queued[1])
		})
	}
}

func admissionKind(err error) string {
	switch {
	case err == nil:
		return "enqueued"
	case errors.Is(err, ErrContention):
		return "rejected"
	default:
		return err.Error()
	}
}

func assertRejected(t *testing.T, err error, reason string) {
	t.Helper()
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, reason, rejected.Reason)
	assert.ErrorIs(t, err, ErrContention)
}
