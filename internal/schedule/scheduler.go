package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is invoked on every tick. The context is cancelled when the scheduler
// is asked to stop.
type Task func(ctx context.Context)

// Scheduler runs a single Task on a standard five field cron expression.
// Ticks that arrive while the previous run is still going are skipped.
type Scheduler struct {
	spec   string
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

func New(spec string, logger *zap.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cl := cronLogger{l: logger.Sugar()}
	return &Scheduler{
		spec:   spec,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Run registers task, starts the scheduler and blocks until ctx is done. It
// waits for an in-flight task to return before it returns itself.
func (s *Scheduler) Run(ctx context.Context, task Task) error {
	if _, err := s.cron.AddFunc(s.spec, func() { task(ctx) }); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}

	s.mu.Lock()
	s.cron.Start()
	s.running = true
	s.mu.Unlock()

	if next := s.NextRun(); next != nil {
		s.logger.Info("scheduler started", zap.String("schedule", s.spec), zap.Time("next_run", *next))
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts the scheduler and waits for a running task to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// NextRun returns the next scheduled activation, or nil when nothing is
// registered yet.
func (s *Scheduler) NextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
