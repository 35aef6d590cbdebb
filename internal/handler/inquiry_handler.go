package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/service"
)

type InquiryService interface {
	Create(ctx context.Context, inquiry *domain.Inquiry) (*domain.Inquiry, error)
	GetByID(ctx context.Context, id string) (*domain.Inquiry, error)
}

type NotificationStatusService interface {
	ListByInquiry(ctx context.Context, inquiryID string) ([]service.JobStatus, error)
}

type InquiryHandler struct {
	inquiries     InquiryService
	notifications NotificationStatusService
}

func NewInquiryHandler(inquiries InquiryService, notifications NotificationStatusService) (*InquiryHandler, error) {
	if inquiries == nil {
		return nil, fmt.Errorf("inquiry service is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &InquiryHandler{inquiries: inquiries, notifications: notifications}, nil
}

func RegisterInquiryRoutes(router fiber.Router, inquiries InquiryService, notifications NotificationStatusService) error {
	h, err := NewInquiryHandler(inquiries, notifications)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/inquiries", h.CreateInquiry)
	v1.Get("/inquiries/:id", h.GetInquiry)

	return nil
}

type createInquiryRequest struct {
	Name           string `json:"name"`
	Company        string `json:"company"`
	ProjectDetails string `json:"projectDetails"`
	PhoneNumber    string `json:"phoneNumber"`
	Email          string `json:"email"`
	AgreedToTerms  bool   `json:"agreedToTerms"`
}

type inquiryResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Company        string    `json:"company"`
	ProjectDetails string    `json:"projectDetails"`
	PhoneNumber    string    `json:"phoneNumber"`
	Email          string    `json:"email"`
	AgreedToTerms  bool      `json:"agreedToTerms"`
	CreatedAt      time.Time `json:"createdAt"`
}

type createInquiryResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    inquiryResponse `json:"data"`
}

type notificationJobResponse struct {
	ID                string            `json:"id"`
	Channel           string            `json:"channel"`
	Status            string            `json:"status"`
	AttemptCount      int               `json:"attemptCount"`
	MaxAttempts       int               `json:"maxAttempts"`
	NextAttemptAt     *time.Time        `json:"nextAttemptAt,omitempty"`
	ProviderMessageID *string           `json:"providerMessageId,omitempty"`
	LastError         *string           `json:"lastError,omitempty"`
	Attempts          []attemptResponse `json:"attempts"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type attemptResponse struct {
	AttemptNumber     int       `json:"attemptNumber"`
	StatusCode        *int      `json:"statusCode,omitempty"`
	Error             *string   `json:"error,omitempty"`
	RetryAfterSeconds *int      `json:"retryAfterSeconds,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type inquiryStatusResponse struct {
	inquiryResponse
	Notifications []notificationJobResponse `json:"notifications"`
}

func (h *InquiryHandler) CreateInquiry(c *fiber.Ctx) error {
	var req createInquiryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	inquiry := &domain.Inquiry{
		Name:           req.Name,
		Company:        req.Company,
		ProjectDetails: req.ProjectDetails,
		PhoneNumber:    req.PhoneNumber,
		Email:          req.Email,
		AgreedToTerms:  req.AgreedToTerms,
	}

	created, err := h.inquiries.Create(c.UserContext(), inquiry)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createInquiryResponse{
		Success: true,
		Message: "request submitted",
		Data:    toInquiryResponse(created),
	})
}

func (h *InquiryHandler) GetInquiry(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	inquiry, err := h.inquiries.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	statuses, err := h.notifications.ListByInquiry(c.UserContext(), inquiry.ID)
	if err != nil {
		return toHTTPError(err)
	}

	jobs := make([]notificationJobResponse, 0, len(statuses))
	for _, status := range statuses {
		jobs = append(jobs, toNotificationJobResponse(status))
	}

	return c.Status(fiber.StatusOK).JSON(inquiryStatusResponse{
		inquiryResponse: toInquiryResponse(inquiry),
		Notifications:   jobs,
	})
}

func toInquiryResponse(i *domain.Inquiry) inquiryResponse {
	if i == nil {
		return inquiryResponse{}
	}

	return inquiryResponse{
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

func toNotificationJobResponse(status service.JobStatus) notificationJobResponse {
	job := status.Job
	resp := notificationJobResponse{
		ID:                job.ID,
		Channel:           job.Channel.String(),
		Status:            job.Status.String(),
		AttemptCount:      job.AttemptCount,
		MaxAttempts:       job.MaxAttempts,
		ProviderMessageID: job.ProviderMessageID,
		LastError:         job.LastError,
		Attempts:          make([]attemptResponse, 0, len(status.Attempts)),
		UpdatedAt:         job.UpdatedAt,
	}

	// Only meaningful while the job can still be picked up.
	if job.Status == domain.StatusQueued {
		next := job.NextAttemptAt
		resp.NextAttemptAt = &next
	}

	for _, a := range status.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			AttemptNumber:     a.AttemptNumber,
			StatusCode:        a.StatusCode,
			Error:             a.Error,
			RetryAfterSeconds: a.RetryAfterSeconds,
			CreatedAt:         a.CreatedAt,
		})
	}
	return resp
}

func toHTTPError(err error) error {
	var fieldErrs domain.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		// Rendered per field by the error handler.
		return err
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
