package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"seat-reservation/model"
)

const DefaultQueueKey = "reservation:intents"

func SeatStatusKey(seatID uint64) string {
	return "seat:status:" + strconv.FormatUint(seatID, 10)
}

// RedisRepository keeps the seat status cache and the write-back queue on the
// data instance of the pool.
type RedisRepository struct {
	Client   *redis.Client
	QueueKey string
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		Client:   client,
		QueueKey: DefaultQueueKey,
	}
}

func (r *RedisRepository) GetStatus(ctx context.Context, seatID uint64) (model.SeatStatus, bool, error) {
	val, err := r.Client.Get(ctx, SeatStatusKey(seatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	status := model.SeatStatus(val)
	// a value we don't recognise is as good as no entry
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

func (r *RedisRepository) SetStatus(ctx context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) error {
	return r.Client.Set(ctx, SeatStatusKey(seatID), string(status), ttl).Err()
}

func (r *RedisRepository) SetStatusIfAbsent(ctx context.Context, seatID uint64, status model.SeatStatus, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, SeatStatusKey(seatID), string(status), ttl).Result()
}

func (r *RedisRepository) Push(ctx context.Context, payload []byte) error {
	return r.Client.RPush(ctx, r.QueueKey, string(payload)).Err()
}

// PopBatch removes up to max entries from the head of the queue.
func (r *RedisRepository) PopBatch(ctx context.Context, max int) ([][]byte, error) {
	vals, err := r.Client.LPopCount(ctx, r.QueueKey, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (r *RedisRepository) Len(ctx context.Context) (int64, error) {
	return r.Client.LLen(ctx, r.QueueKey).Result()
}

// admitScript
// KEYS[1] seat status key, KEYS[2] queue key, KEYS[3] seat lock key
// ARGV[1] encoded intent, ARGV[2] HELD ttl in milliseconds
//
// A held seat lock means a locked-path admission is between its cache read and
// its HELD mark, so the seat is contended whatever the cache says.
var admitScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[3]) == 1 then
		return {"LOCKED", ""}
	end
	local status = redis.call("GET", KEYS[1])
	if status ~= "AVAILABLE" and status ~= "HELD" and status ~= "OCCUPIED" then
		return {"MISS", ""}
	end
	if status ~= "AVAILABLE" then
		return {"REJECTED", status}
	end
	redis.call("RPUSH", KEYS[2], ARGV[1])
	redis.call("SET", KEYS[1], "HELD", "PX", ARGV[2])
	return {"ENQUEUED", "HELD"}
`)

func (r *RedisRepository) TryAdmit(ctx context.Context, seatID uint64, payload []byte, heldTTL time.Duration) (model.FastPathOutcome, error) {
	keys := []string{SeatStatusKey(seatID), r.QueueKey, SeatLockKey(seatID)}
	args := []interface{}{string(payload), heldTTL.Milliseconds()}

	res, err := admitScript.Run(ctx, r.Client, keys, args...).StringSlice()
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected admit script result %v", res)
	}

	switch res[0] {
	case "MISS":
		return model.SlowPathRequired{}, nil
	case "LOCKED":
		return model.FastPathResult{Enqueued: false, Locked: true}, nil
	case "REJECTED":
		return model.FastPathResult{Enqueued: false, Status: model.SeatStatus(res[1])}, nil
	case "ENQUEUED":
		return model.FastPathResult{Enqueued: true}, nil
	}
	return nil, fmt.Errorf("unexpected admit script verdict %q", res[0])
}
