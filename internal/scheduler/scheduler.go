// Package scheduler runs the discovery, health and RED tasks on a fixed
// interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one periodic unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
	// Immediate runs the task once as soon as the scheduler starts.
	Immediate bool
}

// Scheduler runs tasks at a constant interval. A task never overlaps with
// itself: a tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	interval time.Duration
	tasks    []Task
	cron     *cron.Cron
	jobs     map[string]cron.Job

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
	started bool
}

// New creates a Scheduler. Intervals under one second are rounded up.
func New(interval time.Duration, tasks ...Task) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		if task.Name == "" || task.Run == nil {
			return nil, errors.New("task requires a name and a run function")
		}
		if _, dup := seen[task.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", task.Name)
		}
		seen[task.Name] = struct{}{}
	}

	logger := cronLogger{logger: slog.Default().With(slog.String("component", "scheduler"))}
	return &Scheduler{
		interval: interval,
		tasks:    tasks,
		cron:     cron.New(cron.WithLogger(logger)),
		jobs:     make(map[string]cron.Job, len(tasks)),
	}, nil
}

// Start schedules every task and launches the immediate ones. Runs receive a
// context derived from ctx that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	logger := cronLogger{logger: slog.Default().With(slog.String("component", "scheduler"))}
	chain := func(task Task) cron.Job {
		// Recover sits inside SkipIfStillRunning so a panic still releases
		// the running slot.
		return cron.NewChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		).Then(cron.FuncJob(func() { s.execute(task) }))
	}

	for _, task := range s.tasks {
		job := chain(task)
		s.jobs[task.Name] = job
		s.cron.Schedule(cron.Every(s.interval), job)
	}
	s.cron.Start()
	s.started = true

	for _, task := range s.tasks {
		if task.Immediate {
			s.trigger(task.Name)
		}
	}

	slog.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("tasks", len(s.tasks)),
	)
	return nil
}

// RunNow starts an out-of-schedule run of the named task. It reports false
// when the task is unknown or the scheduler is not started. The run is
// skipped if the task is already running.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}
	return s.trigger(name)
}

func (s *Scheduler) trigger(name string) bool {
	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		job.Run()
	}()
	return true
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.running.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) execute(task Task) {
	start := time.Now()
	if err := task.Run(s.ctx); err != nil {
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			slog.Debug("task cancelled", slog.String("task", task.Name))
			return
		}
		slog.Error("task failed",
			slog.String("task", task.Name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Debug("task finished",
		slog.String("task", task.Name),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", fmt.Sprint(err))}, keysAndValues...)
	l.logger.Error(msg, args...)
}
