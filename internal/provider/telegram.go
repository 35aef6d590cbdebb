package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/format"
)

const (
	defaultTelegramTimeout = 10 * time.Second
	defaultTelegramAPIURL  = "https://api.telegram.org"
	defaultRetryAfter      = time.Second
	telegramParseMode      = "HTML"
)

// TelegramConfig holds the bot credential and destination. Token and ChatID
// are checked on every send, not at construction.
type TelegramConfig struct {
	APIURL   string
	Token    string
	ChatID   string
	ThreadID int64
}

type telegramRequest struct {
	ChatID          string `json:"chat_id"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	MessageThreadID *int64 `json:"message_thread_id,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      *struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// TelegramProvider delivers inquiries through the Bot API sendMessage method.
type TelegramProvider struct {
	client   *resty.Client
	token    string
	chatID   string
	threadID int64
}

func NewTelegramProvider(cfg TelegramConfig) (*TelegramProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultTelegramTimeout)
	client.SetRetryCount(0)

	return NewTelegramProviderWithClient(cfg, client)
}

func NewTelegramProviderWithClient(cfg TelegramConfig, client *resty.Client) (*TelegramProvider, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = defaultTelegramAPIURL
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid telegram api url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTelegramTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(apiURL)

	return &TelegramProvider{
		client:   client,
		token:    strings.TrimSpace(cfg.Token),
		chatID:   strings.TrimSpace(cfg.ChatID),
		threadID: cfg.ThreadID,
	}, nil
}

func (p *TelegramProvider) Channel() domain.Channel {
	return domain.ChannelTelegram
}

func (p *TelegramProvider) Send(ctx context.Context, inquiry domain.Inquiry) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if p.token == "" {
		return nil, fmt.Errorf("%w: telegram bot token is not set", ErrConfiguration)
	}
	if p.chatID == "" {
		return nil, fmt.Errorf("%w: telegram chat id is not set", ErrConfiguration)
	}

	reqBody := telegramRequest{
		ChatID:    p.chatID,
		Text:      format.TelegramBody(inquiry),
		ParseMode: telegramParseMode,
	}
	if p.threadID != 0 {
		threadID := p.threadID
		reqBody.MessageThreadID = &threadID
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetPathParam("token", p.token).
		SetBody(reqBody).
		Post("/bot{token}/sendMessage")
	if err != nil {
		// The request URL embeds the bot token, so the cause is redacted rather than wrapped.
		return nil, &ProviderError{
			Message:   "provider request failed: " + strings.ReplaceAll(err.Error(), p.token, "<token>"),
			Transient: !errors.Is(err, context.Canceled),
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{
			RetryAfter: parseRetryAfter(response.Body(), response.Header().Get("Retry-After")),
			Body:       responseBody,
		}
	}

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    providerErrorMessage(statusCode, responseBody),
			Transient:  true,
		}
	}

	var envelope telegramResponse
	if err := json.Unmarshal(response.Body(), &envelope); err != nil {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    "provider returned malformed response",
			Transient:  true,
			Cause:      err,
		}
	}
	if !envelope.OK {
		return nil, &ProviderError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("provider reported failure: %s", strings.TrimSpace(envelope.Description)),
			Transient:  true,
		}
	}

	resp := &ProviderResponse{
		StatusCode: statusCode,
		Body:       responseBody,
	}
	if envelope.Result != nil && envelope.Result.MessageID != 0 {
		resp.MessageID = strconv.FormatInt(envelope.Result.MessageID, 10)
	}
	return resp, nil
}

// parseRetryAfter reads parameters.retry_after from a Bot API error body,
// then the Retry-After header, falling back to one second.
func parseRetryAfter(body []byte, header string) time.Duration {
	var envelope struct {
		Parameters struct {
			RetryAfter json.RawMessage `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if seconds, ok := positiveSeconds(string(envelope.Parameters.RetryAfter)); ok {
			return seconds
		}
	}

	if seconds, ok := positiveSeconds(header); ok {
		return seconds
	}

	return defaultRetryAfter
}

func positiveSeconds(raw string) (time.Duration, bool) {
	value := strings.Trim(strings.TrimSpace(raw), `"`)
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
