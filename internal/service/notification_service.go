package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"go.uber.org/zap"
)

// NotificationService turns a stored inquiry into one delivery job per channel
// and hands each job to the queue.
type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	maxAttempts   int
	now           func() time.Time
}

// JobStatus is a notification job together with its attempt history.
type JobStatus struct {
	Job      domain.NotificationJob
	Attempts []domain.NotificationAttempt
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	maxAttempts int,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		publisher:     publisher,
		logger:        logger,
		maxAttempts:   maxAttempts,
		now:           time.Now,
	}, nil
}

// EnqueueNotifications creates the EMAIL and TELEGRAM jobs for an inquiry in a
// single insert and publishes them. A job whose publish fails stays QUEUED and
// undispatched; the retry scanner picks it up, so publish errors are not returned.
func (s *NotificationService) EnqueueNotifications(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	inquiryID = strings.TrimSpace(inquiryID)
	if inquiryID == "" {
		return nil, fmt.Errorf("%w: inquiry id is required", domain.ErrValidation)
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = uuid.NewString()
	}

	now := s.now().UTC()
	jobs := make([]domain.NotificationJob, len(domain.Channels))
	jobPtrs := make([]*domain.NotificationJob, len(domain.Channels))
	for i, channel := range domain.Channels {
		jobs[i] = domain.NotificationJob{
			ID:            uuid.NewString(),
			InquiryID:     inquiryID,
			CorrelationID: correlationID,
			Channel:       channel,
			Status:        domain.StatusQueued,
			MaxAttempts:   s.maxAttempts,
			NextAttemptAt: now,
		}
		if err := jobs[i].Validate(); err != nil {
			return nil, err
		}
		jobPtrs[i] = &jobs[i]
	}

	if err := s.notifications.CreateBatch(ctx, jobPtrs); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: notifications already enqueued for inquiry %s", domain.ErrConflict, inquiryID)
		}
		return nil, fmt.Errorf("failed to create notification jobs: %w", err)
	}

	logger := observability.WithContextLogger(s.logger, ctx)
	for i := range jobs {
		s.dispatch(ctx, logger, &jobs[i])
	}

	return jobs, nil
}

func (s *NotificationService) dispatch(ctx context.Context, logger *zap.Logger, job *domain.NotificationJob) {
	queueName := queue.QueueName(job.Channel)
	if err := s.publisher.Publish(ctx, queueName, queue.MessageFromJob(*job)); err != nil {
		logger.Warn("failed to publish notification, leaving it to the retry scanner",
			zap.String("notificationId", job.ID),
			zap.String("inquiryId", job.InquiryID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return
	}

	dispatchedAt := s.now().UTC()
	if err := s.notifications.MarkDispatched(ctx, job.ID, dispatchedAt); err != nil {
		// The message is out; the scanner may publish once more, which the lock absorbs.
		logger.Warn("failed to mark notification dispatched",
			zap.String("notificationId", job.ID),
			zap.Error(err),
		)
		return
	}
	job.DispatchedAt = &dispatchedAt
}

// ListByInquiry returns the inquiry's jobs with their attempt history.
func (s *NotificationService) ListByInquiry(ctx context.Context, inquiryID string) ([]JobStatus, error) {
	inquiryID = strings.TrimSpace(inquiryID)
	if inquiryID == "" {
		return nil, fmt.Errorf("%w: inquiry id is required", domain.ErrValidation)
	}

	jobs, err := s.notifications.ListByInquiry(ctx, inquiryID)
	if err != nil {
		return nil, err
	}

	var history map[string][]domain.NotificationAttempt
	if s.attempts != nil && len(jobs) > 0 {
		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		history, err = s.attempts.ListByNotifications(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load attempts: %w", err)
		}
	}

	statuses := make([]JobStatus, 0, len(jobs))
	for _, job := range jobs {
		statuses = append(statuses, JobStatus{Job: job, Attempts: history[job.ID]})
	}
	return statuses, nil
}
