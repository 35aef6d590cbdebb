package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultReaperSchedule = "@every 1m"
	defaultStaleJobAfter  = 10 * time.Minute
)

var reaperScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Reaper returns SENDING jobs abandoned by a crashed worker to QUEUED so the
// retry scanner dispatches them again. A recovered job keeps its attempt count.
type Reaper struct {
	notifications repository.NotificationRepository
	logger        *zap.Logger
	metrics       *observability.Metrics
	schedule      string
	staleAfter    time.Duration
	now           func() time.Time
}

func NewReaper(
	notifications repository.NotificationRepository,
	schedule string,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*Reaper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}

	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultReaperSchedule
	}
	if _, err := reaperScheduleParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleJobAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reaper{
		notifications: notifications,
		logger:        logger,
		schedule:      schedule,
		staleAfter:    staleAfter,
		now:           time.Now,
	}, nil
}

func (r *Reaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Start runs the reaper on its cron schedule until ctx is done. Overlapping
// runs are skipped.
func (r *Reaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cronLog := cronLogger{logger: r.logger.Sugar()}
	c := cron.New(
		cron.WithParser(reaperScheduleParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.reap(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.logger.Info("reaper started",
		zap.String("schedule", r.schedule),
		zap.Duration("staleAfter", r.staleAfter),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Reaper) reap(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	recovered, err := r.notifications.RecoverStale(ctx, now.Add(-r.staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale notifications: %w", err)
	}

	if recovered > 0 {
		r.metrics.AddJobsRecovered(recovered)
		r.logger.Warn("recovered stale sending notifications",
			zap.Int64("count", recovered),
			zap.Duration("staleAfter", r.staleAfter),
		)
	}
	return recovered, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
