package order

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-co-op/gocron/v2"
)

// Expirer is the part of OrderService the reaper drives.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Reaper periodically fails orders whose payment never arrived.
type Reaper struct {
	Expirer  Expirer
	Interval time.Duration
	Logger   *logger.Logger

	scheduler gocron.Scheduler
}

func NewReaper(expirer Expirer, interval time.Duration, log *logger.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{Expirer: expirer, Interval: interval, Logger: log}
}

// Start schedules the sweep. Runs never overlap.
func (r *Reaper) Start() error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("create reaper scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(r.Interval),
		gocron.NewTask(r.RunOnce, context.Background()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule reaper: %w", err)
	}

	r.scheduler = s
	s.Start()
	r.Logger.Info("REAPER", fmt.Sprintf("Reaper started, sweeping every %s", r.Interval))
	return nil
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) int {
	n, err := r.Expirer.ExpireStale(ctx)
	if err != nil {
		r.Logger.Error("REAPER", fmt.Sprintf("Sweep failed after %d expirations: %v", n, err))
		return n
	}
	if n > 0 {
		r.Logger.Info("REAPER", fmt.Sprintf("Expired %d unpaid orders", n))
	}
	return n
}

func (r *Reaper) Stop() error {
	if r.scheduler == nil {
		return nil
	}
	err := r.scheduler.Shutdown()
	r.scheduler = nil
	return err
}
