package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"seat-reservation/model"
)

const mysqlDuplicateEntry = 1062

type MySQLOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL opens the gorm handle with the connection pool configured.
// Writes go through explicit transactions, so gorm's implicit one is disabled.
func OpenMySQL(opts MySQLOptions) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(opts.DSN), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return db, nil
}

type MySQLRepository struct {
	DB *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{
		DB: db,
	}
}

func (r *MySQLRepository) Migrate(ctx context.Context) error {
	return r.DB.WithContext(ctx).AutoMigrate(&model.Performance{}, &model.Seat{}, &model.Reservation{})
}

func (r *MySQLRepository) Transaction(ctx context.Context, fn func(tx DurableTx) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&mysqlTx{db: tx})
	})
}

func (r *MySQLRepository) FindSeat(ctx context.Context, seatID uint64) (*model.Seat, error) {
	return findSeat(r.DB.WithContext(ctx), seatID)
}

func (r *MySQLRepository) FindPerformance(ctx context.Context, performanceID uint64) (*model.Performance, error) {
	var p model.Performance
	err := r.DB.WithContext(ctx).First(&p, performanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPerformanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MySQLRepository) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return findReservation(r.DB.WithContext(ctx), id)
}

func (r *MySQLRepository) FindExpiredPending(ctx context.Context, before time.Time, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	err := r.DB.WithContext(ctx).
		Where("status = ? AND reserved_at < ?", model.ReservationPending, before).
		Order("reserved_at").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *MySQLRepository) CreatePerformance(ctx context.Context, title string, startsAt time.Time, labels []string) (*model.Performance, error) {
	p := &model.Performance{
		Title:          title,
		StartsAt:       startsAt.UTC(),
		TotalSeats:     len(labels),
		AvailableSeats: len(labels),
	}
	for _, label := range labels {
		p.Seats = append(p.Seats, model.Seat{Label: label, Status: model.SeatAvailable})
	}

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create performance: %w", err)
	}
	return p, nil
}

type mysqlTx struct {
	db *gorm.DB
}

func (t *mysqlTx) FindSeat(seatID uint64) (*model.Seat, error) {
	return findSeat(t.db, seatID)
}

func (t *mysqlTx) UpdateSeatStatus(seatID uint64, from, to model.SeatStatus, expectedVersion uint64) (bool, error) {
	res := t.db.Model(&model.Seat{}).
		Where("id = ? AND status = ? AND version = ?", seatID, from, expectedVersion).
		Updates(map[string]interface{}{
			"status":  to,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *mysqlTx) FindReservation(id string) (*model.Reservation, error) {
	return findReservation(t.db, id)
}

func (t *mysqlTx) CreateReservation(r *model.Reservation) error {
	if err := t.db.Create(r).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateReservation
		}
		return err
	}
	return nil
}

func (t *mysqlTx) UpdateReservationStatus(id string, from, to model.ReservationStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{"status": to}
	switch to {
	case model.ReservationConfirmed:
		updates["paid_at"] = at
	case model.ReservationCancelled:
		updates["active_seat_id"] = gorm.Expr("NULL")
	}

	res := t.db.Model(&model.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *mysqlTx) AdjustAvailableSeats(performanceID uint64, delta int) error {
	res := t.db.Model(&model.Performance{}).
		Where("id = ?", performanceID).
		Update("available_seats", gorm.Expr("available_seats + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPerformanceNotFound
	}
	return nil
}

func findSeat(db *gorm.DB, seatID uint64) (*model.Seat, error) {
	var s model.Seat
	err := db.First(&s, seatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSeatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func findReservation(db *gorm.DB, id string) (*model.Reservation, error) {
	var r model.Reservation
	err := db.Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
