package repository

import (
	"context"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository keeps the append-only delivery history of each job.
type AttemptRepository interface {
	Create(ctx context.Context, a *domain.NotificationAttempt) error
	ListByNotifications(ctx context.Context, notificationIDs []string) (map[string][]domain.NotificationAttempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByNotifications(ctx context.Context, notificationIDs []string) (map[string][]domain.NotificationAttempt, error) {
	grouped := make(map[string][]domain.NotificationAttempt, len(notificationIDs))
	if len(notificationIDs) == 0 {
		return grouped, nil
	}

	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("notification_id IN ?", notificationIDs).
		Order("notification_id ASC, attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	for i := range models {
		a := attemptModelToDomain(&models[i])
		grouped[a.NotificationID] = append(grouped[a.NotificationID], *a)
	}

	return grouped, nil
}
