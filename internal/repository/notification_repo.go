package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRepository stores notification jobs. Every state transition is
// conditional on the current status so concurrent workers cannot clobber each other.
// Transitions out of SENDING also carry the lock timestamp returned by
// LockForSending; a lock recovered by the reaper or taken by another worker
// no longer matches and the transition fails with domain.ErrConflict.
type NotificationRepository interface {
	CreateBatch(ctx context.Context, jobs []*domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	ListByInquiry(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error)
	// LockForSending moves a due QUEUED job to SENDING. It returns nil, nil when
	// the job is not eligible (already taken, finished, or not due yet).
	LockForSending(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error)
	MarkSent(ctx context.Context, id string, lockedAt time.Time, attemptCount int, providerMsgID *string) error
	MarkFailed(ctx context.Context, id string, lockedAt time.Time, attemptCount int, lastError string) error
	ScheduleRetry(ctx context.Context, id string, lockedAt time.Time, attemptCount int, nextAttemptAt time.Time, lastError string) error
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.NotificationJob, error)
	RecoverStale(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) CreateBatch(ctx context.Context, jobs []*domain.NotificationJob) error {
	models := make([]NotificationModel, 0, len(jobs))
	modelIndexes := make([]int, 0, len(jobs))
	for i, n := range jobs {
		model := notificationModelFromDomain(n)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(jobs) && jobs[idx] != nil {
			*jobs[idx] = *notificationModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) ListByInquiry(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("inquiry_id = ?", inquiryID).
		Order("channel ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainJobs(models), nil
}

func (r *GormNotificationRepo) LockForSending(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	var locked *domain.NotificationJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model NotificationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if model.Status != domain.StatusQueued || model.NextAttemptAt.After(now) {
			return nil
		}

		// Postgres keeps microseconds; the token handed back must compare equal.
		lockedAt := now.UTC().Truncate(time.Microsecond)
		if err := tx.Model(&model).Updates(map[string]any{
			"status":    domain.StatusSending,
			"locked_at": lockedAt,
		}).Error; err != nil {
			return err
		}

		model.Status = domain.StatusSending
		model.LockedAt = &lockedAt
		locked = notificationModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return locked, nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, lockedAt time.Time, attemptCount int, providerMsgID *string) error {
	return r.transitionFromSending(ctx, id, lockedAt, map[string]any{
		"status":              domain.StatusSent,
		"attempt_count":       attemptCount,
		"provider_message_id": providerMsgID,
		"last_error":          nil,
		"locked_at":           nil,
	})
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, lockedAt time.Time, attemptCount int, lastError string) error {
	return r.transitionFromSending(ctx, id, lockedAt, map[string]any{
		"status":        domain.StatusFailed,
		"attempt_count": attemptCount,
		"last_error":    lastError,
		"locked_at":     nil,
	})
}

func (r *GormNotificationRepo) ScheduleRetry(ctx context.Context, id string, lockedAt time.Time, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	return r.transitionFromSending(ctx, id, lockedAt, map[string]any{
		"status":          domain.StatusQueued,
		"attempt_count":   attemptCount,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastError,
		"dispatched_at":   nil,
		"locked_at":       nil,
	})
}

func (r *GormNotificationRepo) transitionFromSending(ctx context.Context, id string, lockedAt time.Time, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ? AND locked_at = ?", id, domain.StatusSending, lockedAt.UTC()).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusQueued).
		Update("dispatched_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormNotificationRepo) GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.NotificationJob, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.StatusQueued, now).
		Where("dispatched_at IS NULL OR dispatched_at <= ?", redispatchBefore).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomainJobs(models), nil
}

func (r *GormNotificationRepo) RecoverStale(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ? AND locked_at <= ?", domain.StatusSending, lockedBefore).
		Updates(map[string]any{
			"status":          domain.StatusQueued,
			"next_attempt_at": now,
			"dispatched_at":   nil,
			"locked_at":       nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func toDomainJobs(models []NotificationModel) []domain.NotificationJob {
	jobs := make([]domain.NotificationJob, 0, len(models))
	for i := range models {
		jobs = append(jobs, *notificationModelToDomain(&models[i]))
	}
	return jobs
}
