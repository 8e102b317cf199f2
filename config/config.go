package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogFormat   string

	// MySQL
	MySQLDSN          string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBAutoMigrate     bool

	// Redis: RedisAddr holds the seat status cache and the write-back queue,
	// RedisLockAddrs are the replicas the seat mutex needs a quorum on.
	RedisAddr      string
	RedisLockAddrs []string
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int

	// Kafka. An empty broker list disables event publishing.
	KafkaBrokers    []string
	KafkaEventTopic string
	KafkaDLQTopic   string

	// Admission
	LockTTL           time.Duration
	CacheTTL          time.Duration
	HeldTTL           time.Duration
	AdmissionFastPath bool

	// Background workers
	SettlementInterval  time.Duration
	SettlementBatchSize int
	SweepInterval       time.Duration
	PendingTimeout      time.Duration
	SweepBatchSize      int
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisAddr := getEnv("REDIS_ADDR", "localhost:16379")
	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":8081"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		MySQLDSN:          getEnv("MYSQL_DSN", "root:password123@tcp(127.0.0.1:3306)/ticket_db?charset=utf8mb4&parseTime=True&loc=UTC"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 50),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		DBAutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),

		RedisAddr:      redisAddr,
		RedisLockAddrs: getEnvAsList("REDIS_LOCK_ADDRS", []string{redisAddr}),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		RedisPoolSize:  getEnvAsInt("REDIS_POOL_SIZE", 100),

		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS", nil),
		KafkaEventTopic: getEnv("KAFKA_EVENT_TOPIC", "reservation-events"),
		KafkaDLQTopic:   getEnv("KAFKA_DLQ_TOPIC", "reservation-dlq"),

		LockTTL:           getEnvAsDuration("LOCK_TTL", 2*time.Second),
		CacheTTL:          getEnvAsDuration("CACHE_TTL", time.Minute),
		HeldTTL:           getEnvAsDuration("HELD_TTL", 5*time.Minute),
		AdmissionFastPath: getEnvAsBool("ADMISSION_FAST_PATH", false),

		SettlementInterval:  getEnvAsDuration("SETTLEMENT_INTERVAL", 200*time.Millisecond),
		SettlementBatchSize: getEnvAsInt("SETTLEMENT_BATCH_SIZE", 50),
		SweepInterval:       getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		PendingTimeout:      getEnvAsDuration("PENDING_TIMEOUT", 10*time.Minute),
		SweepBatchSize:      getEnvAsInt("SWEEP_BATCH_SIZE", 100),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"LOCK_TTL":            c.LockTTL,
		"CACHE_TTL":           c.CacheTTL,
		"HELD_TTL":            c.HeldTTL,
		"SETTLEMENT_INTERVAL": c.SettlementInterval,
		"SWEEP_INTERVAL":      c.SweepInterval,
		"PENDING_TIMEOUT":     c.PendingTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SettlementBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SETTLEMENT_BATCH_SIZE must be positive, got %d", c.SettlementBatchSize))
	}
	if c.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be positive, got %d", c.SweepBatchSize))
	}
	// a HELD mark that expires before the lock would reopen the seat mid-admission
	if c.HeldTTL <= c.LockTTL {
		errs = append(errs, fmt.Errorf("HELD_TTL (%s) must exceed LOCK_TTL (%s)", c.HeldTTL, c.LockTTL))
	}
	if len(c.RedisLockAddrs) == 0 {
		errs = append(errs, errors.New("REDIS_LOCK_ADDRS must name at least one instance"))
	}
	// the fast path script checks the seat lock key on the data instance
	if c.AdmissionFastPath && !slices.Contains(c.RedisLockAddrs, c.RedisAddr) {
		errs = append(errs, fmt.Errorf("ADMISSION_FAST_PATH needs REDIS_ADDR (%s) among REDIS_LOCK_ADDRS", c.RedisAddr))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
