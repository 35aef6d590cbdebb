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
	"github.com/kursadbilgin/inquiry-dispatch/internal/provider"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
	"github.com/kursadbilgin/inquiry-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"github.com/kursadbilgin/inquiry-dispatch/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	// defaultRateLimitWait bounds how long a locked job waits for a channel
	// slot. It must stay well below the reaper's stale threshold.
	defaultRateLimitWait = 30 * time.Second
)

// Failure reasons stored on FAILED jobs and used as metric labels.
const (
	reasonRecordNotFound = "record_not_found"
	reasonConfiguration  = "configuration_error"
	reasonPermanent      = "permanent_error"
	reasonRetryExhausted = "retry_exhausted"
	reasonNoProvider     = "no_provider"
)

// WorkerService executes notification jobs delivered by the queue.
type WorkerService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	inquiries     repository.InquiryRepository
	consumer      queue.Consumer
	providers     map[domain.Channel]provider.Provider
	rateLimiter   ratelimit.RateLimiter
	policy        *retry.Policy
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	rateLimitWait time.Duration
	now           func() time.Time
}

func NewWorkerService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	inquiries repository.InquiryRepository,
	consumer queue.Consumer,
	providers []provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	policy *retry.Policy,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if notifications == nil || attempts == nil || inquiries == nil {
		return nil, fmt.Errorf("notification, attempt and inquiry repositories are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byChannel := make(map[domain.Channel]provider.Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		byChannel[p.Channel()] = p
	}

	return &WorkerService{
		notifications: notifications,
		attempts:      attempts,
		inquiries:     inquiries,
		consumer:      consumer,
		providers:     byChannel,
		rateLimiter:   rateLimiter,
		policy:        policy,
		logger:        logger,
		concurrency:   concurrency,
		rateLimitWait: defaultRateLimitWait,
		now:           time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes channel queues and processes notification messages until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	// Every channel gets at least one consumer even with a lower concurrency.
	consumers := max(s.concurrency, len(queueNames))

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.NotificationMessage) error {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("notificationId", msg.NotificationID),
		zap.String("inquiryId", msg.InquiryID),
		zap.String("channel", msg.Channel.String()),
	)

	job, err := s.notifications.LockForSending(ctx, msg.NotificationID, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification not found during lock, skipping")
			return nil
		}
		return fmt.Errorf("failed to lock notification for sending: %w", err)
	}

	// Not due, already taken or finished; ack and skip.
	if job == nil {
		logger.Debug("notification not eligible for sending, skipping")
		return nil
	}

	channelName := strings.ToLower(job.Channel.String())
	s.metrics.IncWorkerInFlight(channelName)
	defer s.metrics.DecWorkerInFlight(channelName)

	p, ok := s.providers[job.Channel]
	if !ok {
		logger.Error("no delivery client registered for channel")
		return s.fail(ctx, logger, job, job.AttemptCount, reasonNoProvider, nil)
	}

	inquiry, err := s.inquiries.GetByID(ctx, job.InquiryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.fail(ctx, logger, job, job.AttemptCount, reasonRecordNotFound, nil)
		}
		return s.release(ctx, logger, job, s.now().UTC(), fmt.Errorf("failed to load inquiry: %w", err))
	}

	// A paused channel can outlast the stale threshold, so the wait is bounded
	// and the job goes back to the queue instead of holding its lock.
	waitCtx, cancelWait := context.WithTimeout(ctx, s.rateLimitWait)
	err = s.rateLimiter.Wait(waitCtx, job.Channel)
	cancelWait()
	if err != nil {
		nextAttemptAt := s.now().UTC()
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			nextAttemptAt = nextAttemptAt.Add(s.rateLimitWait)
		}
		return s.release(ctx, logger, job, nextAttemptAt, fmt.Errorf("rate limiter wait failed: %w", err))
	}

	owned, err := s.ownsLock(ctx, job)
	if err != nil {
		return s.release(ctx, logger, job, s.now().UTC(), fmt.Errorf("failed to verify notification lock: %w", err))
	}
	if !owned {
		logger.Warn("notification lock lost before send, skipping")
		return nil
	}

	attemptNumber := job.AttemptCount + 1
	logger = logger.With(zap.Int("attempt", attemptNumber))

	sendStart := s.now()
	providerResp, sendErr := p.Send(ctx, *inquiry)
	s.metrics.ObserveNotificationSendDuration(channelName, s.now().Sub(sendStart))

	// Shutdown cut the request short; the provider never gave a verdict.
	if sendErr != nil && ctx.Err() != nil {
		return s.release(ctx, logger, job, s.now().UTC(), fmt.Errorf("send interrupted: %w", sendErr))
	}

	// The outcome is written even if the worker starts shutting down now.
	writeCtx := context.WithoutCancel(ctx)
	s.recordAttempt(writeCtx, logger, job.ID, attemptNumber, providerResp, sendErr)

	if sendErr == nil {
		var providerMsgID *string
		if providerResp != nil && strings.TrimSpace(providerResp.MessageID) != "" {
			value := providerResp.MessageID
			providerMsgID = &value
		}
		if err := s.notifications.MarkSent(writeCtx, job.ID, lockedAt(job), attemptNumber, providerMsgID); err != nil {
			return fmt.Errorf("failed to mark notification sent: %w", err)
		}
		s.metrics.IncNotificationSent(channelName)
		logger.Info("notification sent")
		return nil
	}

	retryAfter, rateLimited := provider.RetryAfter(sendErr)
	if rateLimited {
		s.metrics.IncRateLimited(channelName)
		if err := s.rateLimiter.Pause(writeCtx, job.Channel, retryAfter); err != nil {
			logger.Warn("failed to pause channel after rate limit", zap.Error(err))
		}
	}

	if !provider.IsTransient(sendErr) {
		reason := reasonPermanent
		if errors.Is(sendErr, provider.ErrConfiguration) {
			reason = reasonConfiguration
		}
		return s.fail(ctx, logger, job, attemptNumber, reason, sendErr)
	}

	if !s.canRetry(job, attemptNumber) {
		return s.fail(ctx, logger, job, attemptNumber, reasonRetryExhausted, sendErr)
	}

	delay := s.policy.NextDelay(attemptNumber, retryAfter)
	nextAttemptAt := s.now().UTC().Add(delay)
	if err := s.notifications.ScheduleRetry(writeCtx, job.ID, lockedAt(job), attemptNumber, nextAttemptAt, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to schedule notification retry: %w", err)
	}
	s.metrics.IncRetryScheduled(channelName)
	logger.Warn("notification send failed, retry scheduled",
		zap.Duration("delay", delay),
		zap.Time("nextAttemptAt", nextAttemptAt),
		zap.Bool("rateLimited", rateLimited),
		zap.Error(sendErr),
	)
	return nil
}

func (s *WorkerService) canRetry(job *domain.NotificationJob, attemptNumber int) bool {
	if job.MaxAttempts > 0 {
		return attemptNumber < job.MaxAttempts
	}
	return s.policy.ShouldRetry(attemptNumber)
}

func (s *WorkerService) fail(
	ctx context.Context,
	logger *zap.Logger,
	job *domain.NotificationJob,
	attemptCount int,
	reason string,
	cause error,
) error {
	lastError := reason
	if cause != nil {
		lastError = fmt.Sprintf("%s: %v", reason, cause)
	}

	if err := s.notifications.MarkFailed(context.WithoutCancel(ctx), job.ID, lockedAt(job), attemptCount, lastError); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	s.metrics.IncNotificationFailed(strings.ToLower(job.Channel.String()), reason)
	logger.Error("notification failed permanently",
		zap.String("reason", reason),
		zap.Int("attempts", attemptCount),
		zap.Error(cause),
	)
	return nil
}

// release hands a locked job back to the queue without spending an attempt. It
// runs detached from ctx so a shutting down worker still unlocks the row.
func (s *WorkerService) release(
	ctx context.Context,
	logger *zap.Logger,
	job *domain.NotificationJob,
	nextAttemptAt time.Time,
	cause error,
) error {
	releaseCtx := context.WithoutCancel(ctx)
	lastError := cause.Error()
	if err := s.notifications.ScheduleRetry(releaseCtx, job.ID, lockedAt(job), job.AttemptCount, nextAttemptAt, lastError); err != nil {
		return fmt.Errorf("%w (release failed: %v)", cause, err)
	}
	logger.Warn("notification released back to queue",
		zap.Time("nextAttemptAt", nextAttemptAt),
		zap.Error(cause),
	)
	return nil
}

// ownsLock reports whether the row is still SENDING under this worker's lock.
// The reaper may have recovered it while the worker waited for the limiter.
func (s *WorkerService) ownsLock(ctx context.Context, job *domain.NotificationJob) (bool, error) {
	current, err := s.notifications.GetByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	return current.Status == domain.StatusSending &&
		current.LockedAt != nil &&
		current.LockedAt.Equal(lockedAt(job)), nil
}

func lockedAt(job *domain.NotificationJob) time.Time {
	if job.LockedAt == nil {
		return time.Time{}
	}
	return *job.LockedAt
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	notificationID string,
	attemptNumber int,
	providerResp *provider.ProviderResponse,
	sendErr error,
) {
	var statusCode *int
	var responseBody *string
	var attemptErr *string
	var retryAfterSeconds *int

	if providerResp != nil {
		if providerResp.StatusCode > 0 {
			value := providerResp.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(providerResp.Body); body != "" {
			value := providerResp.Body
			responseBody = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		if code := provider.StatusCode(sendErr); code > 0 && statusCode == nil {
			statusCode = &code
		}
		if retryAfter, ok := provider.RetryAfter(sendErr); ok {
			seconds := int(retryAfter / time.Second)
			retryAfterSeconds = &seconds
		}
	}

	attempt := &domain.NotificationAttempt{
		ID:                uuid.NewString(),
		NotificationID:    notificationID,
		AttemptNumber:     attemptNumber,
		StatusCode:        statusCode,
		ResponseBody:      responseBody,
		Error:             attemptErr,
		RetryAfterSeconds: retryAfterSeconds,
		CreatedAt:         s.now().UTC(),
	}

	// The audit row must not decide the job outcome; the send already happened.
	if err := s.attempts.Create(ctx, attempt); err != nil {
		logger.Warn("failed to record notification attempt", zap.Error(err))
	}
}
