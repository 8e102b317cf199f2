package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"seat-reservation/config"
	"seat-reservation/logger"
	"seat-reservation/repository"
)

// seed creates one performance with rows x cols AVAILABLE seats labelled A-1, A-2, ...
func main() {
	title := flag.String("title", "concert_2026", "performance title")
	rows := flag.Int("rows", 10, "seat rows")
	cols := flag.Int("cols", 100, "seats per row")
	startsIn := flag.Duration("starts-in", 7*24*time.Hour, "time until the performance starts")
	migrate := flag.Bool("migrate", true, "create or update tables first")
	flag.Parse()
	if *rows <= 0 || *cols <= 0 {
		logrus.Fatal("rows and cols must be positive")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := repository.OpenMySQL(repository.MySQLOptions{
		DSN:             cfg.MySQLDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("mysql connection failed")
	}
	repo := repository.NewMySQLRepository(db)

	if *migrate {
		if err := repo.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("schema migration failed")
		}
	}

	labels := make([]string, 0, *rows**cols)
	for r := 0; r < *rows; r++ {
		for c := 1; c <= *cols; c++ {
			labels = append(labels, fmt.Sprintf("%c-%d", 'A'+r%26, c))
		}
	}

	p, err := repo.CreatePerformance(ctx, *title, time.Now().Add(*startsIn), labels)
	if err != nil {
		log.WithError(err).Fatal("seeding failed")
	}
	log.WithFields(logrus.Fields{
		"performance_id": p.ID,
		"seats":          p.TotalSeats,
		"first_seat_id":  p.Seats[0].ID,
	}).Info("performance seeded")
}
