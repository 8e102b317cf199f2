// Package memstore holds in-process stand-ins for Redis and MySQL. They keep
// the same contracts as the real adapters, including TTL expiry driven by an
// injectable clock, and are used to exercise the engine end to end in tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"seat-reservation/model"
	"seat-reservation/repository"
)

type Op string

const (
	OpGet     Op = "get"
	OpSet     Op = "set"
	OpPush    Op = "push"
	OpPop     Op = "pop"
	OpAcquire Op = "acquire"
	OpRelease Op = "release"
	OpAdmit   Op = "admit"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Volatile implements the lock, the status cache, the queue and the fast
// admission script on one mutex, which gives every call the atomicity a single
// Redis command or script has.
type Volatile struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	values map[string]entry
	queue  [][]byte
	faults map[Op]error
}

var (
	_ repository.Locker          = (*Volatile)(nil)
	_ repository.SeatStatusCache = (*Volatile)(nil)
	_ repository.IntentQueue     = (*Volatile)(nil)
	_ repository.FastAdmitter    = (*Volatile)(nil)
)

func NewVolatile(clock clockwork.Clock) *Volatile {
	return &Volatile{
		clock:  clock,
		values: make(map[string]entry),
		faults: make(map[Op]error),
	}
}

// Fail makes every following call of op return err until Fail(op, nil).
func (v *Volatile) Fail(op Op, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err == nil {
		delete(v.faults, op)
		return
	}
	v.faults[op] = err
}

func (v *Volatile) get(key string) (string, bool) {
	e, ok := v.values[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !v.clock.Now().Before(e.expiresAt) {
		delete(v.values, key)
		return "", false
	}
	return e.value, true
}

func (v *Volatile) set(key, value string, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = v.clock.Now().Add(ttl)
	}
	v.values[key] = e
}

func (v *Volatile) Acquire(_ context.Context, key string, ttl time.Duration) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpAcquire]; err != nil {
		return "", err
	}
	if _, held := v.get(key); held {
		return "", repository.ErrLockNotAcquired
	}
	token := uuid.NewString()
	v.set(key, token, ttl)
	return token, nil
}

func (v *Volatile) Release(_ context.Context, key, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpRelease]; err != nil {
		return err
	}
	if cur, ok := v.get(key); ok && cur == token {
		delete(v.values, key)
	}
	return nil
}

func (v *Volatile) GetStatus(_ context.Context, seatID uint64) (model.SeatStatus, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpGet]; err != nil {
		return "", false, err
	}
	val, ok := v.get(repository.SeatStatusKey(seatID))
	if !ok || !model.SeatStatus(val).Valid() {
		return "", false, nil
	}
	return model.SeatStatus(val), true, nil
}

func (v *Volatile) SetStatus(_ context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpSet]; err != nil {
		return err
	}
	v.set(repository.SeatStatusKey(seatID), string(status), ttl)
	return nil
}

func (v *Volatile) SetStatusIfAbsent(_ context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpSet]; err != nil {
		return false, err
	}
	key := repository.SeatStatusKey(seatID)
	if _, ok := v.get(key); ok {
		return false, nil
	}
	v.set(key, string(status), ttl)
	return true, nil
}

func (v *Volatile) Push(_ context.Context, payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpPush]; err != nil {
		return err
	}
	v.queue = append(v.queue, append([]byte(nil), payload...))
	return nil
}

func (v *Volatile) PopBatch(_ context.Context, max int) ([][]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpPop]; err != nil {
		return nil, err
	}
	if max > len(v.queue) {
		max = len(v.queue)
	}
	out := v.queue[:max:max]
	v.queue = v.queue[max:]
	return out, nil
}

func (v *Volatile) Len(context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(len(v.queue)), nil
}

func (v *Volatile) TryAdmit(_ context.Context, seatID uint64, payload []byte, heldTTL time.Duration) (model.FastPathOutcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.faults[OpAdmit]; err != nil {
		return nil, err
	}
	if _, locked := v.get(repository.SeatLockKey(seatID)); locked {
		return model.FastPathResult{Enqueued: false, Locked: true}, nil
	}
	key := repository.SeatStatusKey(seatID)
	val, ok := v.get(key)
	if !ok || !model.SeatStatus(val).Valid() {
		return model.SlowPathRequired{}, nil
	}
	if model.SeatStatus(val) != model.SeatAvailable {
		return model.FastPathResult{Enqueued: false, Status: model.SeatStatus(val)}, nil
	}
	v.queue = append(v.queue, append([]byte(nil), payload...))
	v.set(key, string(model.SeatHeld), heldTTL)
	return model.FastPathResult{Enqueued: true}, nil
}
