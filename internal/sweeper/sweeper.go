// Package sweeper periodically moves past-due laybys to overdue and sends
// the automatic reminders that go with it.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/logger"
)

const defaultInterval = 5 * time.Minute

// Runner is the slice of the service the sweeper drives.
type Runner interface {
	RunOverdueSweep(ctx context.Context, storeID string) (domain.OverdueSweepResponse, error)
}

type Params struct {
	Logger   *logger.Logger
	Runner   Runner
	Lock     Lock
	Metrics  *Metrics
	StoreIDs []string
	Interval time.Duration
}

type Sweeper struct {
	log      *logger.Logger
	runner   Runner
	lock     Lock
	metrics  *Metrics
	storeIDs []string
	interval time.Duration
}

func New(params Params) (*Sweeper, error) {
	if params.Runner == nil {
		return nil, errors.New("sweep runner required")
	}
	if len(params.StoreIDs) == 0 {
		return nil, errors.New("at least one store id required")
	}
	log := params.Logger
	if log == nil {
		log = logger.Nop()
	}
	lock := params.Lock
	if lock == nil {
		lock = NoopLock{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		log:      log,
		runner:   params.Runner,
		lock:     lock,
		metrics:  params.Metrics,
		storeIDs: append([]string(nil), params.StoreIDs...),
		interval: interval,
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error(ctx, "overdue sweep failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "overdue sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error(ctx, "overdue sweep failed", err)
			}
		}
	}
}

// RunOnce sweeps every configured store under the lock. It returns nil
// without doing anything when another instance holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	started := time.Now()
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.observeRun("failure", time.Since(started))
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.log.Debug(ctx, "another instance holds the sweep lock; skipping")
		s.metrics.observeRun("skipped", time.Since(started))
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.log.Error(ctx, "failed to release sweep lock", relErr)
		}
	}()

	var errs error
	for _, storeID := range s.storeIDs {
		storeCtx := s.log.WithField(ctx, "store_id", storeID)
		resp, err := s.runner.RunOverdueSweep(storeCtx, storeID)
		s.metrics.addTransitioned(len(resp.Transitioned))
		s.metrics.addReminders(resp.RemindersSent)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("store %s: %w", storeID, err))
			continue
		}
		if len(resp.Transitioned) > 0 || resp.RemindersSent > 0 {
			s.log.Info(s.log.WithFields(storeCtx, map[string]any{
				"transitioned":   len(resp.Transitioned),
				"reminders_sent": resp.RemindersSent,
			}), "overdue sweep applied changes")
		}
	}

	outcome := "success"
	if errs != nil {
		outcome = "failure"
	}
	s.metrics.observeRun(outcome, time.Since(started))
	return errs
}
