package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/repository"
	"go.uber.org/zap"
)

// Notifier schedules delivery of an already persisted inquiry.
type Notifier interface {
	EnqueueNotifications(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error)
}

// InquiryService accepts contact form submissions.
type InquiryService struct {
	inquiries repository.InquiryRepository
	notifier  Notifier
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewInquiryService(
	inquiries repository.InquiryRepository,
	notifier Notifier,
	logger *zap.Logger,
) (*InquiryService, error) {
	if inquiries == nil {
		return nil, fmt.Errorf("inquiry repository is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InquiryService{
		inquiries: inquiries,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *InquiryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create validates and stores the inquiry, then enqueues its notifications.
// It does not wait for delivery, and a failure to enqueue never fails the
// submission: the inquiry is already stored and the error is logged.
func (s *InquiryService) Create(ctx context.Context, inquiry *domain.Inquiry) (*domain.Inquiry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inquiry == nil {
		return nil, fmt.Errorf("%w: inquiry is required", domain.ErrValidation)
	}

	inquiry.Normalize()
	if err := inquiry.Validate(); err != nil {
		return nil, err
	}

	inquiry.ID = uuid.NewString()
	inquiry.CreatedAt = s.now().UTC()

	if err := s.inquiries.Create(ctx, inquiry); err != nil {
		return nil, fmt.Errorf("failed to store inquiry: %w", err)
	}
	s.metrics.IncInquiryCreated()

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("inquiryId", inquiry.ID))
	logger.Info("inquiry stored")

	if _, err := s.notifier.EnqueueNotifications(ctx, inquiry.ID); err != nil {
		logger.Error("failed to enqueue inquiry notifications", zap.Error(err))
	}

	return inquiry, nil
}

func (s *InquiryService) GetByID(ctx context.Context, id string) (*domain.Inquiry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: inquiry id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: inquiry id must be a uuid", domain.ErrValidation)
	}
	return s.inquiries.GetByID(ctx, id)
}
