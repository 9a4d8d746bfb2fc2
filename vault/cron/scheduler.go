package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/shared-vault/vault"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/runtime"
)

var (
	// ErrNilSchedule is returned by NewScheduler without a schedule.
	ErrNilSchedule = errors.New("cron schedule is nil")
	// ErrNilJob is returned by NewScheduler without a job.
	ErrNilJob = errors.New("cron job is nil")
	// ErrSchedulerRunning is returned when Run is called twice.
	ErrSchedulerRunning = errors.New("cron scheduler is already running")
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Scheduler) { s.logger = log.OrNop(logger) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler runs a Job at every time its Schedule matches. Runs never
// overlap: a run that outlasts its slot delays the next one.
type Scheduler struct {
	name     string
	schedule *Schedule
	job      Job
	logger   log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	inJob   sync.WaitGroup
}

var _ vault.App = (*Scheduler)(nil)

// NewScheduler builds a Scheduler named name.
func NewScheduler(name string, schedule *Schedule, job Job, opts ...Option) (*Scheduler, error) {
	if schedule == nil {
		return nil, ErrNilSchedule
	}

	if job == nil {
		return nil, ErrNilJob
	}

	s := &Scheduler{
		name:     name,
		schedule: schedule,
		job:      job,
		logger:   log.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// Run implements vault.App.
func (s *Scheduler) Run(_ *vault.Launcher) error {
	return s.RunContext(context.Background())
}

// RunContext runs the job on schedule until Stop is called or ctx is done.
func (s *Scheduler) RunContext(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		cancel()

		return ErrSchedulerRunning
	}

	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	logger := s.logger.With(log.String("job", s.name), log.String("schedule", s.schedule.String()))
	logger.Log(ctx, log.LevelInfo, "cron scheduler started")

	defer logger.Log(context.Background(), log.LevelInfo, "cron scheduler stopped")

	for {
		now := s.now()

		next, err := s.schedule.Next(now)
		if err != nil {
			logger.Log(ctx, log.LevelError, "cron schedule has no next run", log.Err(err))
			return fmt.Errorf("cron %s: %w", s.name, err)
		}

		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.execute(ctx, logger)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, logger log.Logger) {
	s.inJob.Add(1)
	defer s.inJob.Done()
	defer runtime.RecoverWithPolicyAndContext(ctx, logger, "cron", s.name, runtime.KeepRunning)

	started := s.now()

	if err := s.job(ctx); err != nil {
		logger.Log(ctx, log.LevelWarn, "cron job failed", log.Err(err))
		return
	}

	logger.Log(ctx, log.LevelInfo, "cron job finished", log.Any("elapsed", s.now().Sub(started)))
}

// Stop ends a running loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Shutdown stops the loop and waits for an in-flight job.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})

	runtime.SafeGo(s.logger, "cron.shutdown_wait", runtime.KeepRunning, func() {
		s.inJob.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron %s shutdown: %w", s.name, ctx.Err())
	}
}
