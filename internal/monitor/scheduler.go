package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Pruner deletes journal records older than a cutoff. history.Journal implements it.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the daily check and housekeeping jobs in the operator's zone.
type Scheduler struct {
	cron   gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a stopped scheduler whose jobs fire in loc.
func NewScheduler(loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	cron, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithLogger(cronLogger{logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cron: cron, ctx: ctx, cancel: cancel, logger: logger, now: time.Now}, nil
}

// ScheduleDailyCheck runs o.RunScheduled every day at hour:minute.
func (s *Scheduler) ScheduleDailyCheck(o *Orchestrator, hour, minute uint) error {
	return s.daily("daily-check", hour, minute, func(ctx context.Context) {
		_ = o.RunScheduled(ctx)
	})
}

// ScheduleHistoryPrune removes journal records older than retention every day at midnight.
func (s *Scheduler) ScheduleHistoryPrune(p Pruner, retention time.Duration) error {
	return s.daily("history-prune", 0, 0, func(ctx context.Context) {
		if _, err := p.Prune(ctx, s.now().Add(-retention)); err != nil {
			s.logger.Error().Err(err).Msg("[Cleanup] Failed to clean old check history")
		}
	})
}

// ScheduleEvery runs fn at a fixed interval.
func (s *Scheduler) ScheduleEvery(name string, every time.Duration, fn func()) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) daily(name string, hour, minute uint, fn func(ctx context.Context)) error {
	_, err := s.cron.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() { fn(s.ctx) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Str("at", fmt.Sprintf("%02d:%02d", hour, minute)).Msg("[Scheduler] Job scheduled")
	return nil
}

// Jobs lists the registered jobs.
func (s *Scheduler) Jobs() []gocron.Job { return s.cron.Jobs() }

// Start begins running jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Jobs())).Msg("[Scheduler] Started")
}

// Shutdown cancels running jobs and stops the scheduler.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info().Msg("[Scheduler] Stopped")
	return nil
}

// cronLogger routes gocron's own logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Debug(msg string, args ...any) {
	l.logger.Debug().Fields(args).Msg("[Scheduler] " + msg)
}

func (l cronLogger) Error(msg string, args ...any) {
	l.logger.Error().Fields(args).Msg("[Scheduler] " + msg)
}

func (l cronLogger) Info(msg string, args ...any) {
	l.logger.Debug().Fields(args).Msg("[Scheduler] " + msg)
}

func (l cronLogger) Warn(msg string, args ...any) {
	l.logger.Warn().Fields(args).Msg("[Scheduler] " + msg)
}
