package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, 5*time.Minute, cfg.HeldTTL)
	assert.Equal(t, 10*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 50, cfg.SettlementBatchSize)
	assert.Equal(t, []string{cfg.RedisAddr}, cfg.RedisLockAddrs)
	assert.False(t, cfg.AdmissionFastPath)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-data:6379")
	t.Setenv("REDIS_LOCK_ADDRS", "redis-data:6379, r2:6379 ,r3:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOCK_TTL", "500ms")
	t.Setenv("SETTLEMENT_BATCH_SIZE", "10")
	t.Setenv("ADMISSION_FAST_PATH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis-data:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"redis-data:6379", "r2:6379", "r3:6379"}, cfg.RedisLockAddrs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 500*time.Millisecond, cfg.LockTTL)
	assert.Equal(t, 10, cfg.SettlementBatchSize)
	assert.True(t, cfg.AdmissionFastPath)
}

func TestMalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "every minute")
	t.Setenv("SWEEP_BATCH_SIZE", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.SweepBatchSize)
}

func TestValidateRejectsHeldTTLShorterThanLock(t *testing.T) {
	t.Setenv("LOCK_TTL", "10s")
	t.Setenv("HELD_TTL", "5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HELD_TTL")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := &Config{
		LockTTL:             time.Second,
		CacheTTL:            0,
		HeldTTL:             time.Minute,
		SettlementInterval:  time.Second,
		SweepInterval:       time.Second,
		PendingTimeout:      time.Minute,
		SettlementBatchSize: 0,
		SweepBatchSize:      1,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_TTL")
	assert.Contains(t, err.Error(), "SETTLEMENT_BATCH_SIZE")
	assert.Contains(t, err.Error(), "REDIS_LOCK_ADDRS")
}

func TestValidateFastPathNeedsLockOnDataInstance(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis-data:6379")
	t.Setenv("REDIS_LOCK_ADDRS", "r1:6379,r2:6379,r3:6379")
	t.Setenv("ADMISSION_FAST_PATH", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMISSION_FAST_PATH")

	t.Setenv("ADMISSION_FAST_PATH", "false")
	_, err = Load()
	assert.NoError(t, err)
}
