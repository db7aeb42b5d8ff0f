package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is the unit of work a DailyTrigger runs
type Job func(ctx context.Context) error

// DailyTriggerConfig holds configuration for the daily trigger
type DailyTriggerConfig struct {
	// Name identifies the job in logs
	Name string

	// Hour and Minute are the UTC time of day to run
	Hour   int
	Minute int

	// CheckInterval is how often to check if it's time to run
	CheckInterval time.Duration

	// RunOnStart runs the job once at start when today's slot already passed.
	// Only safe for idempotent jobs.
	RunOnStart bool
}

// DefaultDailyTriggerConfig returns default trigger configuration
func DefaultDailyTriggerConfig() DailyTriggerConfig {
	return DailyTriggerConfig{
		Name:          "daily",
		Hour:          0,
		Minute:        5,
		CheckInterval: time.Minute,
	}
}

func (c DailyTriggerConfig) validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("%w: time of day %02d:%02d", ErrInvalidConfig, c.Hour, c.Minute)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// DailyTrigger runs a job once per UTC day at a fixed time
type DailyTrigger struct {
	config DailyTriggerConfig
	job    Job
	logger *zap.Logger
	now    func() time.Time

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	isRunning   bool
	jobRunning  bool
	lastRunDate string // UTC date of the last scheduled run
}

// NewDailyTrigger creates a new trigger
func NewDailyTrigger(config DailyTriggerConfig, job Job, logger *zap.Logger) (*DailyTrigger, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyTrigger{
		config: config,
		job:    job,
		logger: logger.With(zap.String("job", config.Name)),
		now:    time.Now,
	}, nil
}

// Start starts the trigger loop
func (d *DailyTrigger) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.runLoop(ctx)

	d.logger.Info("Daily trigger started",
		zap.Int("hour_utc", d.config.Hour),
		zap.Int("minute_utc", d.config.Minute),
		zap.Duration("check_interval", d.config.CheckInterval),
	)
	return nil
}

// Stop stops the trigger and waits for an in-flight run
func (d *DailyTrigger) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Daily trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DailyTrigger) runLoop(ctx context.Context) {
	defer d.wg.Done()

	if d.config.RunOnStart {
		now := d.now().UTC()
		if !now.Before(d.slot(now)) {
			d.claimAndRun(ctx, now.Format(time.DateOnly))
		}
	}

	ticker := time.NewTicker(d.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkAndTrigger(ctx)
		}
	}
}

func (d *DailyTrigger) slot(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), d.config.Hour, d.config.Minute, 0, 0, time.UTC)
}

// checkAndTrigger runs the job if today's slot has passed and it has not run today.
// Comparing against the slot rather than the exact minute tolerates ticks that
// skip over it.
func (d *DailyTrigger) checkAndTrigger(ctx context.Context) {
	now := d.now().UTC()
	if now.Before(d.slot(now)) {
		return
	}
	d.claimAndRun(ctx, now.Format(time.DateOnly))
}

func (d *DailyTrigger) claimAndRun(ctx context.Context, date string) {
	d.mu.Lock()
	if d.lastRunDate == date {
		d.mu.Unlock()
		return
	}
	d.lastRunDate = date
	d.mu.Unlock()

	if err := d.runJob(ctx); err != nil {
		d.logger.Error("Scheduled run failed", zap.String("date", date), zap.Error(err))
	}
}

// RunNow runs the job immediately, outside the schedule
func (d *DailyTrigger) RunNow(ctx context.Context) error {
	return d.runJob(ctx)
}

func (d *DailyTrigger) runJob(ctx context.Context) error {
	d.mu.Lock()
	if d.jobRunning {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.jobRunning = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.jobRunning = false
		d.mu.Unlock()
	}()

	start := d.now()
	err := d.job(ctx)
	d.logger.Info("Job finished", zap.Duration("duration", d.now().Sub(start)), zap.Bool("ok", err == nil))
	return err
}
