package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"seat-reservation/config"
	"seat-reservation/logger"
	"seat-reservation/metrics"
	"seat-reservation/repository"
	"seat-reservation/service"
	"seat-reservation/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. MySQL
	db, err := repository.OpenMySQL(repository.MySQLOptions{
		DSN:             cfg.MySQLDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("mysql connection failed")
	}
	mysqlRepo := repository.NewMySQLRepository(db)

	// 2. Redis. The worker never takes seat locks, only the data instance.
	pool := repository.NewRedisPool(repository.RedisPoolOptions{
		DataAddr: cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	pool.VerifyDurability(ctx, log)
	redisRepo := repository.NewRedisRepository(pool.Data)

	// 3. Kafka: lifecycle events and the dead-letter topic
	var events repository.EventPublisher = repository.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaRepo := repository.NewKafkaRepository(cfg.KafkaBrokers, cfg.KafkaEventTopic, cfg.KafkaDLQTopic)
		defer kafkaRepo.Close()
		events = kafkaRepo
	} else {
		log.Warn("KAFKA_BROKERS not set, undecodable intents will only be logged")
	}

	svc := service.NewReservationService(service.ReservationServiceProperty{
		Cache:    redisRepo,
		Queue:    redisRepo,
		Store:    mysqlRepo,
		Events:   events,
		Logger:   log,
		CacheTTL: cfg.CacheTTL,
		HeldTTL:  cfg.HeldTTL,
	})

	settlement := worker.NewSettlementWorker(redisRepo, mysqlRepo, events, log, cfg.SettlementBatchSize)
	sweeper := worker.NewExpirySweeper(mysqlRepo, svc, log, cfg.PendingTimeout, cfg.SweepBatchSize)

	// Jobs outlive the signal: a tick in flight at SIGTERM finishes its batch
	// and sched.Shutdown waits for it.
	jobCtx := context.WithoutCancel(ctx)
	sched, err := worker.NewScheduler(jobCtx, log, settlement, cfg.SettlementInterval, sweeper, cfg.SweepInterval)
	if err != nil {
		log.WithError(err).Fatal("scheduler setup failed")
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("metrics server started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	sched.Start()
	log.WithFields(logrus.Fields{
		"settlement_interval": cfg.SettlementInterval.String(),
		"sweep_interval":      cfg.SweepInterval.String(),
		"pending_timeout":     cfg.PendingTimeout.String(),
	}).Info("settlement worker started")

	<-ctx.Done()
	log.Info("shutting down")

	if err := sched.Shutdown(); err != nil {
		log.WithError(err).Warn("scheduler shutdown")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics shutdown")
	}
}
