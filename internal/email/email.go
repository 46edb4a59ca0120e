// Package email renders and delivers transactional email through Brevo or SMTP.
package email

import (
	"context"
	"fmt"
	"strings"

	"fieldservice_backend/platform/config"
)

const (
	ProviderBrevo = "brevo"
	ProviderSMTP  = "smtp"
)

// Attachment represents a file attachment for an email.
type Attachment struct {
	Content  []byte
	FileName string
	MIMEType string
}

// Message is a rendered email ready for delivery.
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type NoopSender struct{}

func (NoopSender) Send(context.Context, Message) error { return nil }

// NewSender picks the delivery provider from configuration. Disabled email yields a NoopSender.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	switch strings.ToLower(cfg.GetEmailProvider()) {
	case "", ProviderBrevo:
		if cfg.GetBrevoAPIKey() == "" {
			return nil, fmt.Errorf("BREVO_API_KEY is required for the brevo email provider")
		}
		return NewBrevoSender(cfg.GetBrevoAPIKey(), cfg.GetEmailFromAddress(), cfg.GetEmailFromName()), nil
	case ProviderSMTP:
		if cfg.GetSMTPHost() == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp email provider")
		}
		return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(), cfg.GetEmailFromName()), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}
