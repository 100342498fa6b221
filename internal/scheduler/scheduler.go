// Package scheduler starts notification passes on a cron cadence and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robfig/cron/v3"

	"giftwise-api/internal/distlock"
	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
	"giftwise-api/internal/window"
)

const DefaultSchedule = "0 8 * * *"

// ErrRunInProgress is returned by RunNow when the run lock is held elsewhere.
var ErrRunInProgress = errors.New("scheduler: notification run already in progress")

// Runner performs one notification pass for a day.
type Runner interface {
	Run(ctx context.Context, today civil.Date) (models.RunSummary, error)
}

// Options tunes a Trigger. Zero values take the defaults.
type Options struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// Location is the zone used for both the cadence and "today". Defaults to UTC.
	Location *time.Location
	// Lock, when set, is held for the duration of each pass.
	Lock distlock.RunLock
	Now  func() time.Time
}

// Trigger owns the cron cadence.
type Trigger struct {
	runner Runner
	log    *logger.Logger
	opts   Options
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New validates the schedule and builds a stopped Trigger.
func New(runner Runner, log *logger.Logger, opts Options) (*Trigger, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid notify schedule %q: %w", opts.Schedule, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		runner: runner,
		log:    log.With("component", "scheduler"),
		opts:   opts,
		cron:   cron.New(cron.WithLocation(opts.Location)),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start registers the pass on the cadence and starts the cron loop.
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}

	if _, err := t.cron.AddFunc(t.opts.Schedule, t.tick); err != nil {
		return fmt.Errorf("failed to schedule notification run: %w", err)
	}
	t.cron.Start()
	t.started = true

	t.log.Info("notification scheduler started", "schedule", t.opts.Schedule, "timezone", t.opts.Location.String())
	return nil
}

// Stop cancels in-flight passes, scheduled or manual, and waits for them to return.
// Calls after the first are no-ops.
func (t *Trigger) Stop() {
	t.stopOnce.Do(t.stop)
}

func (t *Trigger) stop() {
	t.cancel()

	t.mu.Lock()
	started := t.started
	t.started = false
	t.mu.Unlock()

	if started {
		<-t.cron.Stop().Done()
	}
	t.wg.Wait()
	t.log.Info("notification scheduler stopped")
}

// Today is the current calendar day in the configured zone.
func (t *Trigger) Today() civil.Date {
	return window.Today(t.opts.Now(), t.opts.Location)
}

// RunNow performs a pass synchronously for today and returns its outcome.
// The pass is cancelled when either ctx is done or the trigger stops, so a
// caller that detaches ctx from its request still cannot hold up Stop.
func (t *Trigger) RunNow(ctx context.Context) (models.RunSummary, error) {
	t.wg.Add(1)
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	return t.run(ctx, t.Today())
}

func (t *Trigger) tick() {
	t.wg.Add(1)
	defer t.wg.Done()

	if t.ctx.Err() != nil {
		return
	}

	today := t.Today()
	summary, err := t.run(t.ctx, today)
	switch {
	case errors.Is(err, ErrRunInProgress):
		t.log.Info("skipping scheduled run, another run holds the lock", "date", today.String())
	case err != nil:
		t.log.Error("scheduled notification run failed", "date", today.String(), "error", err)
	default:
		t.log.Info("scheduled notification run complete",
			"run_id", summary.RunID,
			"reminders_sent", summary.RemindersSent,
			"nudges_sent", summary.NudgesSent,
			"failures", summary.Failures,
		)
	}
}

func (t *Trigger) run(ctx context.Context, today civil.Date) (models.RunSummary, error) {
	if t.opts.Lock == nil {
		return t.runner.Run(ctx, today)
	}

	ok, err := t.opts.Lock.Acquire(ctx)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return models.RunSummary{}, ErrRunInProgress
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := t.opts.Lock.Release(releaseCtx); err != nil {
			t.log.Warn("failed to release run lock", "error", err)
		}
	}()

	return t.runner.Run(ctx, today)
}
