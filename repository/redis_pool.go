package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisPoolOptions struct {
	DataAddr  string
	LockAddrs []string
	Password  string
	DB        int
	PoolSize  int
}

// RedisPool owns every Redis connection the process uses: Data for the status
// cache and queue, Lock for the mutex replicas. It is built once in main and
// handed to the components that need it.
type RedisPool struct {
	Data *redis.Client
	Lock []*redis.Client
}

func NewRedisPool(opts RedisPoolOptions) *RedisPool {
	newClient := func(addr string) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     opts.Password,
			DB:           opts.DB,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.PoolSize / 10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
	}

	p := &RedisPool{Data: newClient(opts.DataAddr)}
	for _, addr := range opts.LockAddrs {
		if addr == opts.DataAddr {
			p.Lock = append(p.Lock, p.Data)
			continue
		}
		p.Lock = append(p.Lock, newClient(addr))
	}
	return p
}

func (p *RedisPool) clients() []*redis.Client {
	out := []*redis.Client{p.Data}
	for _, c := range p.Lock {
		if c != p.Data {
			out = append(out, c)
		}
	}
	return out
}

func (p *RedisPool) Ping(ctx context.Context) error {
	var errs []error
	for _, c := range p.clients() {
		if err := c.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("ping %s: %w", c.Options().Addr, err))
		}
	}
	return errors.Join(errs...)
}

// VerifyDurability warns when the data instance could lose queued intents:
// it should run with AOF enabled and must not evict keys.
func (p *RedisPool) VerifyDurability(ctx context.Context, logger *logrus.Logger) {
	entry := logger.WithContext(ctx).WithField("addr", p.Data.Options().Addr)

	aof, err := p.Data.ConfigGet(ctx, "appendonly").Result()
	if err != nil {
		entry.WithError(err).Warn("could not read appendonly setting")
	} else if aof["appendonly"] != "yes" {
		entry.WithField("appendonly", aof["appendonly"]).Warn("write-back queue is not AOF backed")
	}

	policy, err := p.Data.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		entry.WithError(err).Warn("could not read maxmemory-policy")
	} else if policy["maxmemory-policy"] != "noeviction" {
		entry.WithField("maxmemory_policy", policy["maxmemory-policy"]).Warn("data instance may evict queued intents")
	}
}

func (p *RedisPool) Close() error {
	var errs []error
	for _, c := range p.clients() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
