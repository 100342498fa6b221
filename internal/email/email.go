// Package email delivers notification messages through an external provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"giftwise-api/internal/logger"
)

// DefaultFrom is the sender used when none is configured.
const DefaultFrom = "GiftWise SG <noreply@giftwisesg.com>"

// ErrNotConfigured is returned by senders that are missing credentials.
var ErrNotConfigured = errors.New("email: sender not configured")

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	// Tags are forwarded to providers that support message tagging.
	Tags map[string]string
}

// Sender sends one message. A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a provider.
type Config struct {
	Provider     string // "ses", "resend" or "log"
	From         string
	Region       string
	AccessKey    string
	SecretKey    string
	ResendAPIKey string
	ResendURL    string
}

// NewSender builds the configured provider.
func NewSender(ctx context.Context, cfg Config, log *logger.Logger) (Sender, error) {
	from := cfg.From
	if from == "" {
		from = DefaultFrom
	}

	switch strings.ToLower(cfg.Provider) {
	case "ses":
		s, err := NewSESSender(ctx, from, cfg.Region, cfg.AccessKey, cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "resend":
		s, err := NewResendSender(from, cfg.ResendAPIKey, cfg.ResendURL, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "log", "":
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// LogSender writes messages to the log instead of sending them. Used in development.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("email (log sender)", "to_email", msg.To, "subject", msg.Subject)
	return nil
}
