package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const clockDriftFactor = 0.01

func SeatLockKey(seatID uint64) string {
	return fmt.Sprintf("lock:seat:%d", seatID)
}

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisMutex is a quorum lock over independent Redis instances. A lock is held
// when a majority accepted SET NX PX and the TTL left after the round trip is
// still positive. It never retries.
type RedisMutex struct {
	Clients []*redis.Client
	Clock   clockwork.Clock
	Token   func() string
}

func NewRedisMutex(clients []*redis.Client) *RedisMutex {
	return &RedisMutex{
		Clients: clients,
		Clock:   clockwork.NewRealClock(),
		Token:   uuid.NewString,
	}
}

func (m *RedisMutex) quorum() int {
	return len(m.Clients)/2 + 1
}

func (m *RedisMutex) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if len(m.Clients) == 0 {
		return "", errors.New("redis mutex has no instances")
	}

	token := m.Token()
	start := m.Clock.Now()

	var (
		held      []*redis.Client
		contended int
		errs      []error
	)
	for _, c := range m.Clients {
		ok, err := c.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil:
			errs = append(errs, err)
		case ok:
			held = append(held, c)
		default:
			contended++
		}
	}

	drift := time.Duration(float64(ttl)*clockDriftFactor) + 2*time.Millisecond
	validity := ttl - m.Clock.Since(start) - drift
	if len(held) >= m.quorum() && validity > 0 {
		return token, nil
	}

	// give back what we did take; the TTL cleans up if this fails too
	_ = release(ctx, held, key, token)

	if contended > 0 || len(errs) == 0 {
		return "", ErrLockNotAcquired
	}
	return "", fmt.Errorf("acquire %s: %w", key, errors.Join(errs...))
}

func (m *RedisMutex) Release(ctx context.Context, key, token string) error {
	return release(ctx, m.Clients, key, token)
}

func release(ctx context.Context, clients []*redis.Client, key, token string) error {
	var errs []error
	for _, c := range clients {
		if err := releaseScript.Run(ctx, c, []string{key}, token).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
