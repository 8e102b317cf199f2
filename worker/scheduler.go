package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the settlement worker and the expiry sweeper on independent
// fixed intervals. A tick that fires while the previous run of the same job is
// still going is rescheduled rather than run concurrently.
type Scheduler struct {
	inner  gocron.Scheduler
	logger *logrus.Logger
}

func NewScheduler(ctx context.Context, logger *logrus.Logger, settlement *SettlementWorker, settleEvery time.Duration, sweeper *ExpirySweeper, sweepEvery time.Duration) (*Scheduler, error) {
	inner, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name  string
		every time.Duration
		run   func()
	}{
		{"settlement", settleEvery, func() { settlement.RunOnce(ctx) }},
		{"expiry-sweep", sweepEvery, func() { sweeper.RunOnce(ctx) }},
	}
	for _, j := range jobs {
		_, err := inner.NewJob(
			gocron.DurationJob(j.every),
			gocron.NewTask(j.run),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = inner.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
		logger.WithFields(logrus.Fields{"job": j.name, "every": j.every.String()}).Info("job scheduled")
	}

	return &Scheduler{inner: inner, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.inner.Start()
}

// Shutdown stops scheduling and waits for running jobs to return.
func (s *Scheduler) Shutdown() error {
	if err := s.inner.Shutdown(); err != nil {
		return err
	}
	s.logger.Info("scheduler stopped")
	return nil
}
