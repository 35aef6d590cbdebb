package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
	defaultRedispatchAfter   = 5 * time.Minute
)

// RetryScanner periodically publishes QUEUED jobs that are due and have no
// live queue message: scheduled retries, jobs whose first publish failed and
// jobs whose message was dispatched longer than redispatchAfter ago.
type RetryScanner struct {
	notifications   repository.NotificationRepository
	publisher       queue.Publisher
	logger          *zap.Logger
	metrics         *observability.Metrics
	interval        time.Duration
	redispatchAfter time.Duration
	limit           int
	now             func() time.Time
}

func NewRetryScanner(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	redispatchAfter time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if redispatchAfter <= 0 {
		redispatchAfter = defaultRedispatchAfter
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		notifications:   notifications,
		publisher:       publisher,
		logger:          logger,
		interval:        interval,
		redispatchAfter: redispatchAfter,
		limit:           limit,
		now:             time.Now,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due jobs do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.notifications.GetDueForDispatch(ctx, now, now.Add(-s.redispatchAfter), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due notifications: %w", err)
	}

	for i := range due {
		job := due[i]
		queueName := queue.QueueName(job.Channel)
		if err := s.publisher.Publish(ctx, queueName, queue.MessageFromJob(job)); err != nil {
			s.logger.Error("failed to enqueue due notification",
				zap.String("notificationId", job.ID),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		if err := s.notifications.MarkDispatched(ctx, job.ID, s.now().UTC()); err != nil {
			// A worker already took it; the lock makes the extra message harmless.
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			s.logger.Error("failed to mark notification dispatched",
				zap.String("notificationId", job.ID),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncJobRedispatched(string(job.Channel))
	}

	if len(due) > 0 {
		s.logger.Debug("retry scanner dispatched due notifications", zap.Int("count", len(due)))
	}

	return nil
}
