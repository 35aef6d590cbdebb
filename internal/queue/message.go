package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

// NotificationMessage is the broker payload announcing a due notification job.
type NotificationMessage struct {
	NotificationID string         `json:"notificationId"`
	InquiryID      string         `json:"inquiryId"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	Channel        domain.Channel `json:"channel"`
}

// MessageFromJob builds the broker payload for a notification job.
func MessageFromJob(job domain.NotificationJob) NotificationMessage {
	return NotificationMessage{
		NotificationID: job.ID,
		InquiryID:      job.InquiryID,
		CorrelationID:  job.CorrelationID,
		Channel:        job.Channel,
	}
}

func (m NotificationMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.InquiryID) == "" {
		return fmt.Errorf("inquiryId is required")
	}
	if !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
