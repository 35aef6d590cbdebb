package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification job.
type Status string

const (
	StatusQueued  Status = "QUEUED"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelTelegram Channel = "TELEGRAM"
)

// Channels lists every delivery channel an inquiry is announced on.
var Channels = []Channel{ChannelEmail, ChannelTelegram}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelTelegram:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// DefaultMaxAttempts bounds delivery attempts per job.
const DefaultMaxAttempts = 5

// NotificationJob is one unit of retryable work: delivering one inquiry over one channel.
type NotificationJob struct {
	ID                string
	InquiryID         string
	CorrelationID     string
	Channel           Channel
	Status            Status
	AttemptCount      int
	MaxAttempts       int
	NextAttemptAt     time.Time
	DispatchedAt      *time.Time
	LockedAt          *time.Time
	ProviderMessageID *string
	LastError         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (n *NotificationJob) Validate() error {
	if strings.TrimSpace(n.InquiryID) == "" {
		return fmt.Errorf("%w: inquiry id is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}
	if n.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive", ErrValidation)
	}
	if n.AttemptCount < 0 {
		return fmt.Errorf("%w: attempt count must not be negative", ErrValidation)
	}
	return nil
}
