package repository

import (
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

// InquiryModel is the persistence model for the inquiries table.
type InquiryModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	Name           string `gorm:"type:varchar(255);not null"`
	Company        string `gorm:"type:varchar(255);not null"`
	ProjectDetails string `gorm:"type:text;not null"`
	PhoneNumber    string `gorm:"type:varchar(32);not null"`
	Email          string `gorm:"type:varchar(255);not null"`
	AgreedToTerms  bool   `gorm:"not null;default:false"`
	CreatedAt      time.Time
}

func (InquiryModel) TableName() string {
	return "inquiries"
}

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID                string         `gorm:"type:uuid;primaryKey"`
	InquiryID         string         `gorm:"type:uuid;not null"`
	CorrelationID     string         `gorm:"type:varchar(128);not null"`
	Channel           domain.Channel `gorm:"type:varchar(16);not null"`
	Status            domain.Status  `gorm:"type:varchar(16);not null"`
	AttemptCount      int            `gorm:"not null;default:0"`
	MaxAttempts       int            `gorm:"not null;default:5"`
	NextAttemptAt     time.Time      `gorm:"type:timestamptz;not null"`
	DispatchedAt      *time.Time     `gorm:"type:timestamptz"`
	LockedAt          *time.Time     `gorm:"type:timestamptz"`
	ProviderMessageID *string        `gorm:"type:varchar(255)"`
	LastError         *string        `gorm:"type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID                string  `gorm:"type:uuid;primaryKey"`
	NotificationID    string  `gorm:"type:uuid;not null"`
	AttemptNumber     int     `gorm:"not null"`
	StatusCode        *int    `gorm:"type:int"`
	ResponseBody      *string `gorm:"type:text"`
	Error             *string `gorm:"type:text"`
	RetryAfterSeconds *int    `gorm:"type:int"`
	CreatedAt         time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

func inquiryModelFromDomain(i *domain.Inquiry) *InquiryModel {
	if i == nil {
		return nil
	}

	return &InquiryModel{
		ID:             i.ID,
		Name:           i.Name,
		Company:        i.Company,
		ProjectDetails: i.ProjectDetails,
		PhoneNumber:    i.PhoneNumber,
		Email:          i.Email,
		AgreedToTerms:  i.AgreedToTerms,
		CreatedAt:      i.CreatedAt,
	}
}

func inquiryModelToDomain(m *InquiryModel) *domain.Inquiry {
	if m == nil {
		return nil
	}

	return &domain.Inquiry{
		ID:             m.ID,
		Name:           m.Name,
		Company:        m.Company,
		ProjectDetails: m.ProjectDetails,
		PhoneNumber:    m.PhoneNumber,
		Email:          m.Email,
		AgreedToTerms:  m.AgreedToTerms,
		CreatedAt:      m.CreatedAt,
	}
}

func notificationModelFromDomain(n *domain.NotificationJob) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                n.ID,
		InquiryID:         n.InquiryID,
		CorrelationID:     n.CorrelationID,
		Channel:           n.Channel,
		Status:            n.Status,
		AttemptCount:      n.AttemptCount,
		MaxAttempts:       n.MaxAttempts,
		NextAttemptAt:     n.NextAttemptAt,
		DispatchedAt:      n.DispatchedAt,
		LockedAt:          n.LockedAt,
		ProviderMessageID: n.ProviderMessageID,
		LastError:         n.LastError,
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.NotificationJob {
	if m == nil {
		return nil
	}

	return &domain.NotificationJob{
		ID:                m.ID,
		InquiryID:         m.InquiryID,
		CorrelationID:     m.CorrelationID,
		Channel:           m.Channel,
		Status:            m.Status,
		AttemptCount:      m.AttemptCount,
		MaxAttempts:       m.MaxAttempts,
		NextAttemptAt:     m.NextAttemptAt,
		DispatchedAt:      m.DispatchedAt,
		LockedAt:          m.LockedAt,
		ProviderMessageID: m.ProviderMessageID,
		LastError:         m.LastError,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	return &NotificationAttemptModel{
		ID:                a.ID,
		NotificationID:    a.NotificationID,
		AttemptNumber:     a.AttemptNumber,
		StatusCode:        a.StatusCode,
		ResponseBody:      a.ResponseBody,
		Error:             a.Error,
		RetryAfterSeconds: a.RetryAfterSeconds,
		CreatedAt:         a.CreatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:                m.ID,
		NotificationID:    m.NotificationID,
		AttemptNumber:     m.AttemptNumber,
		StatusCode:        m.StatusCode,
		ResponseBody:      m.ResponseBody,
		Error:             m.Error,
		RetryAfterSeconds: m.RetryAfterSeconds,
		CreatedAt:         m.CreatedAt,
	}
}
