package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"activation-api/pkg/logging"

	"github.com/cenkalti/backoff/v4"
	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoService provides Brevo email service
type BrevoService struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
	retries   uint64
}

// NewBrevoService creates a new Brevo service instance. An empty API key
// yields nil, which disables outbound mail.
func NewBrevoService(apiKey, fromEmail, fromName string) *BrevoService {
	if apiKey == "" || fromEmail == "" {
		logging.Infof("BREVO_API_KEY or BREVO_FROM_EMAIL not set, confirmation emails disabled")
		return nil
	}
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	return &BrevoService{
		client:    brevo.NewAPIClient(cfg),
		fromEmail: fromEmail,
		fromName:  fromName,
		retries:   3,
	}
}

// SendSubscriptionConfirmation sends the "subscription active" email. Transient
// failures are retried with exponential backoff.
func (s *BrevoService) SendSubscriptionConfirmation(ctx context.Context, to string, periodEnd time.Time) error {
	subject := "Your subscription is active"
	until := periodEnd.UTC().Format("January 2, 2006")
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head>
			<meta charset="UTF-8">
			<title>%s</title>
		</head>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px; text-align: center;">
				<h1 style="color: #333; margin-bottom: 20px;">Thank you for subscribing</h1>
				<p style="color: #666; font-size: 16px;">Your subscription is active until <strong>%s</strong>.</p>
				<p style="color: #999; font-size: 12px; margin-top: 30px;">You can now activate your products on your devices.</p>
			</div>
		</body>
		</html>
	`, subject, until)
	textContent := fmt.Sprintf("Thank you for subscribing.\n\nYour subscription is active until %s.\n", until)

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  s.fromName,
			Email: s.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: to},
		},
		Subject:     subject,
		HtmlContent: htmlContent,
		TextContent: textContent,
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.retries), ctx)
	return backoff.Retry(func() error {
		return s.send(ctx, email)
	}, policy)
}

// send sends one email via the Brevo API. Client errors are not retried.
func (s *BrevoService) send(ctx context.Context, email brevo.SendSmtpEmail) error {
	_, resp, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err == nil {
		return nil
	}
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(fmt.Errorf("brevo API error: status %d: %w", resp.StatusCode, err))
	}
	return fmt.Errorf("failed to send email: %w", err)
}
