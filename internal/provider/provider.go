package provider

import (
	"context"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
)

// Provider is the outbound delivery port for one channel.
type Provider interface {
	Channel() domain.Channel
	Send(ctx context.Context, inquiry domain.Inquiry) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
