package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/referralpay/commission_engine/internal/app/system"
	"github.com/referralpay/commission_engine/pkg/logger"
)

var _ system.Service = (*Runner)(nil)

// Runner advances the optimizer on a schedule so the weight vector keeps
// improving without an external caller driving it.
type Runner struct {
	service  *Service
	log      *logger.Logger
	schedule cron.Schedule
	onStep   func(StepResult)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner creates a lifecycle-managed optimizer runner stepping every 15
// seconds by default.
func NewRunner(service *Service, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("allocator-runner")
	}
	return &Runner{
		service:  service,
		log:      log,
		schedule: cron.Every(15 * time.Second),
	}
}

// WithSchedule sets the step cadence from a cron expression or descriptor
// such as "@every 30s".
func (r *Runner) WithSchedule(spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	r.mu.Lock()
	r.schedule = schedule
	r.mu.Unlock()
	return nil
}

// WithStepHook registers a callback invoked after every scheduled step, for
// publishing accepted weights to interested collaborators.
func (r *Runner) WithStepHook(hook func(StepResult)) {
	r.mu.Lock()
	r.onStep = hook
	r.mu.Unlock()
}

func (r *Runner) Name() string { return "allocator-runner" }

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	schedule := r.schedule
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			next := schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("allocator runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("allocator runner stopped")
	return nil
}

func (r *Runner) tick(ctx context.Context) {
	result, err := r.service.Step(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).Warn("scheduled optimizer step failed")
		}
		return
	}

	r.mu.Lock()
	hook := r.onStep
	r.mu.Unlock()
	if hook != nil {
		hook(result)
	}
}
