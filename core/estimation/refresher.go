package estimation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// Refresher periodically re-runs an estimation job in the background so fee
// data stays current while the user reviews the transaction. The signing
// controller ignores updates while frozen, so a refresh can never change
// what is about to be signed.
type Refresher struct {
	scheduler gocron.Scheduler
	logger    logger.Logger
}

// NewRefresher schedules job every interval. The job receives a fresh
// context per run.
func NewRefresher(interval time.Duration, job func(ctx context.Context), lgr logger.Logger) (*Refresher, error) {
	lgr = logger.EnsureLogger(lgr)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("cannot create estimation refresh scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			job(ctx)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot schedule estimation refresh: %w", err)
	}

	return &Refresher{scheduler: scheduler, logger: lgr}, nil
}

// Start begins the periodic refresh.
func (r *Refresher) Start() {
	r.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for a running job to finish.
func (r *Refresher) Stop() {
	if err := r.scheduler.Shutdown(); err != nil {
		r.logger.Warnf("estimation refresher shutdown: %v", err)
	}
}
