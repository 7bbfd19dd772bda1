package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// LogSender logs the notification instead of sending it — used in ENV=local.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendEmailSender sends the completion mail via the Resend API.
type ResendEmailSender struct {
	client *resend.Client
	from   string
}

func (s *ResendEmailSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// NewEmailSender returns a LogSender for ENV=local, ResendEmailSender otherwise.
func NewEmailSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{logger: logger}
	}
	return &ResendEmailSender{client: resend.NewClient(apiKey), from: from}
}
