// Package scheduler runs recurring maintenance tasks on cron schedules.
// Tasks register once at startup; a minute-resolution loop fires the
// ones whose schedule came due in the last tick window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// task is one registered maintenance job.
type task struct {
	name     string
	schedule cron.Schedule
	fn       func(context.Context)
}

// Scheduler fires registered tasks when their cron schedule comes due.
// Tasks run inline on the loop goroutine; anything with its own
// concurrency or dedupe requirements (the media reaper gates itself)
// handles that internally.
type Scheduler struct {
	mu sync.Mutex

	logger *slog.Logger
	parser cron.Parser
	tick   time.Duration
	tasks  []task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler with standard 5-field cron parsing.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tick:   time.Minute,
	}
}

// WithTick overrides the loop interval. Mostly for tests.
func (s *Scheduler) WithTick(d time.Duration) *Scheduler {
	if d > 0 {
		s.tick = d
	}
	return s
}

// Add registers a task under the given cron expression.
func (s *Scheduler) Add(name, cronExpr string, fn func(context.Context)) error {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task{name: name, schedule: schedule, fn: fn})
	s.mu.Unlock()

	s.logger.Debug("scheduled maintenance task",
		slog.String("task", name),
		slog.String("cron", cronExpr))
	return nil
}

// ValidateCron validates a cron expression without registering anything.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Start begins the scheduler's background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scheduler started",
		slog.Duration("tick", s.tick),
		slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop stops the scheduler and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// loop runs due tasks once per tick. The first pass happens immediately
// so a schedule due around boot is not skipped.
func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.runDue(time.Now())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(now)
		}
	}
}

// runDue fires every task whose schedule landed inside the last tick
// window.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	tasks := make([]task, len(s.tasks))
	copy(tasks, s.tasks)
	ctx := s.ctx
	s.mu.Unlock()

	for _, tk := range tasks {
		if !due(tk.schedule, now, s.tick) {
			continue
		}
		s.logger.Debug("running maintenance task", slog.String("task", tk.name))
		started := time.Now()
		tk.fn(ctx)
		s.logger.Debug("maintenance task finished",
			slog.String("task", tk.name),
			slog.Duration("elapsed", time.Since(started)))
	}
}

// due reports whether the schedule's next firing after (now - window)
// has already arrived.
func due(schedule cron.Schedule, now time.Time, window time.Duration) bool {
	next := schedule.Next(now.Add(-window))
	return !next.After(now)
}
