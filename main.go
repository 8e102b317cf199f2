package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"seat-reservation/config"
	"seat-reservation/handler"
	"seat-reservation/logger"
	"seat-reservation/metrics"
	"seat-reservation/repository"
	"seat-reservation/service"
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
	if cfg.DBAutoMigrate {
		if err := mysqlRepo.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("schema migration failed")
		}
	}

	// 2. Redis: data instance plus lock replicas
	pool := repository.NewRedisPool(repository.RedisPoolOptions{
		DataAddr:  cfg.RedisAddr,
		LockAddrs: cfg.RedisLockAddrs,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		PoolSize:  cfg.RedisPoolSize,
	})
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	pool.VerifyDurability(ctx, log)

	redisRepo := repository.NewRedisRepository(pool.Data)
	mutex := repository.NewRedisMutex(pool.Lock)

	// 3. Kafka (optional)
	var events repository.EventPublisher = repository.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaRepo := repository.NewKafkaRepository(cfg.KafkaBrokers, cfg.KafkaEventTopic, cfg.KafkaDLQTopic)
		defer kafkaRepo.Close()
		events = kafkaRepo
	}

	// 4. Service
	svc := service.NewReservationService(service.ReservationServiceProperty{
		Locker:       mutex,
		Cache:        redisRepo,
		Queue:        redisRepo,
		FastAdmitter: redisRepo,
		Store:        mysqlRepo,
		Events:       events,
		Logger:       log,
		LockTTL:      cfg.LockTTL,
		CacheTTL:     cfg.CacheTTL,
		HeldTTL:      cfg.HeldTTL,
		FastPath:     cfg.AdmissionFastPath,
	})

	// 5. HTTP
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Server.ReadTimeout = 5 * time.Second
	e.Server.WriteTimeout = 10 * time.Second

	handler.NewReservationHandler(svc, log).Register(e)
	e.GET("/healthz", handler.Health(map[string]handler.Pinger{
		"redis": pool,
		"mysql": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}))

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("metrics server started")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		log.WithFields(logrus.Fields{
			"addr":      cfg.HTTPAddr,
			"fast_path": cfg.AdmissionFastPath,
		}).Info("reservation api started")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics shutdown")
	}
}
