package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/format"
	"github.com/wneessen/go-mail"
)

const smtpsPort = 465

// SMTPConfig describes the mail transport and the fixed administrative recipient.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminEmail string
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailProvider mails every inquiry to the administrative address.
type EmailProvider struct {
	mu     sync.Mutex
	sender mailSender
	from   string
	to     string
}

func NewEmailProvider(cfg SMTPConfig) (*EmailProvider, error) {
	p := &EmailProvider{
		from: strings.TrimSpace(cfg.From),
		to:   strings.TrimSpace(cfg.AdminEmail),
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		// Left without a sender; Send reports the missing host as a configuration error.
		return p, nil
	}

	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Port == smtpsPort {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	p.sender = client

	return p, nil
}

func newEmailProviderWithSender(sender mailSender, from string, to string) *EmailProvider {
	return &EmailProvider{
		sender: sender,
		from:   from,
		to:     to,
	}
}

func (p *EmailProvider) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (p *EmailProvider) Send(ctx context.Context, inquiry domain.Inquiry) (*ProviderResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if p.sender == nil {
		return nil, fmt.Errorf("%w: smtp host is not set", ErrConfiguration)
	}
	if p.from == "" {
		return nil, fmt.Errorf("%w: sender address is not set", ErrConfiguration)
	}
	if p.to == "" {
		return nil, fmt.Errorf("%w: admin email is not set", ErrConfiguration)
	}

	msg := mail.NewMsg()
	if err := msg.From(p.from); err != nil {
		return nil, fmt.Errorf("%w: invalid sender address: %v", ErrConfiguration, err)
	}
	if err := msg.To(p.to); err != nil {
		return nil, fmt.Errorf("%w: invalid admin email: %v", ErrConfiguration, err)
	}
	msg.Subject(format.EmailSubject(inquiry))
	msg.SetBodyString(mail.TypeTextPlain, format.EmailBody(inquiry))
	msg.SetDate()
	msg.SetMessageID()

	p.mu.Lock()
	err := p.sender.DialAndSendWithContext(ctx, msg)
	p.mu.Unlock()
	if err != nil {
		return nil, &ProviderError{
			Message:   "smtp delivery failed",
			Transient: true,
			Cause:     err,
		}
	}

	resp := &ProviderResponse{}
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		resp.MessageID = strings.Trim(ids[0], "<>")
	}
	return resp, nil
}
