package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrAlreadyStarted is returned by a second Start on the same Runner.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Runner wraps a seconds-resolution cron. Jobs added through Add run under a
// lock so that only one instance of a job runs across the deployment.
type Runner struct {
	cron    *cron.Cron
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
	baseCtx context.Context
	started atomic.Bool
}

func New(baseCtx context.Context, locker Locker, lockTTL time.Duration, logger *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name on the cron spec.
func (r *Runner) Add(spec, name string, job func(context.Context) error) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if err := r.Guard(r.baseCtx, name, job); err != nil && !errors.Is(err, ErrLocked) {
			r.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return id, nil
}

// Guard runs job while holding the named lock. It returns ErrLocked without
// running job when another holder has it.
func (r *Runner) Guard(ctx context.Context, name string, job func(context.Context) error) error {
	release, err := r.locker.TryLock(ctx, name, r.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			r.logger.Info("Job skipped, lock held elsewhere", zap.String("job", name))
		}
		return err
	}
	defer func() {
		// release with a fresh context so a cancelled job still frees the lock
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			r.logger.Warn("Failed to release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	start := time.Now()
	err = job(ctx)
	r.logger.Info("Job finished",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return err
}

// Start starts the cron once per process.
func (r *Runner) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	r.logger.Info("cron started", zap.Int("entries", len(r.cron.Entries())))
	r.cron.Start()
	return nil
}

// Stop stops the cron and waits for running jobs.
func (r *Runner) Stop() {
	if !r.started.Load() {
		return
	}
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
