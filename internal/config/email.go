package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ErrEmailDisabled is returned when no Resend API key is configured.
var ErrEmailDisabled = errors.New("email delivery is not configured")

// EmailService sends transactional mail through Resend.
type EmailService struct {
	client *resend.Client
	from   string
	logger *zap.Logger
}

func NewEmailService(cfg *Config, logger *zap.Logger) *EmailService {
	service := &EmailService{from: cfg.Email.From, logger: logger}
	if cfg.Email.ResendAPIKey == "" || cfg.Email.From == "" {
		logger.Warn("Email delivery disabled: EMAIL_RESEND_API_KEY or EMAIL_FROM missing")
		return service
	}
	service.client = resend.NewClient(cfg.Email.ResendAPIKey)
	return service
}

// Enabled reports whether mail can actually be delivered.
func (e *EmailService) Enabled() bool {
	return e != nil && e.client != nil
}

func (e *EmailService) SendEmail(ctx context.Context, to, subject, body string) error {
	if !e.Enabled() {
		return ErrEmailDisabled
	}
	params := &resend.SendEmailRequest{
		From:    e.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	sent, err := e.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	e.logger.Info("Email sent", zap.String("to", to), zap.String("id", sent.Id))
	return nil
}
