package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/pkg/logger"
)

// RunExecutor executes one pipeline run.
type RunExecutor interface {
	Run(ctx context.Context) (*models.Run, error)
	Running() bool
}

// Runner starts runs in the background for the admin API, control commands
// and the scheduler. At most one run it started is in flight at a time.
type Runner struct {
	exec   RunExecutor
	logger *logger.Logger

	busy   atomic.Bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(exec RunExecutor, l *logger.Logger) *Runner {
	if l == nil {
		l = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{exec: exec, logger: l, ctx: ctx, cancel: cancel}
}

// Running reports whether a run is executing in this process.
func (r *Runner) Running() bool {
	return r.busy.Load() || r.exec.Running()
}

// Trigger starts a run and returns at once. It fails with ErrRunInProgress
// while another run is executing.
func (r *Runner) Trigger(source string) error {
	if r.ctx.Err() != nil {
		return context.Canceled
	}
	if r.exec.Running() || !r.busy.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.busy.Store(false)

		run, err := r.exec.Run(r.ctx)
		fields := []logger.Field{logger.String("source", source)}
		if run != nil {
			fields = append(fields, logger.String("run_id", run.ID), logger.String("state", string(run.State)))
		}
		if err != nil {
			r.logger.Warn("triggered run aborted", append(fields, logger.Error(err))...)
			return
		}
		r.logger.Info("triggered run finished", fields...)
	}()
	return nil
}

// Schedule triggers a run every interval until ctx is done. A tick that
// finds a run in flight is skipped.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Trigger("schedule"); err != nil {
				if errors.Is(err, ErrRunInProgress) {
					r.logger.Info("scheduled run skipped, previous run still active")
					continue
				}
				return
			}
		}
	}
}

// Stop cancels the in-flight run and waits for it to wind down.
func (r *Runner) Stop(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
