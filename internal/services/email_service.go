package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Mailer sends account-security notifications. All sends are best-effort;
// the authentication path never blocks on email delivery.
type Mailer interface {
	SendWelcome(ctx context.Context, email, username string) error
	SendLockoutNotice(ctx context.Context, email, username string, until time.Time) error
	SendMFAEnabledNotice(ctx context.Context, email, username string) error
}

// AWSSESMailer sends notifications using AWS SES
type AWSSESMailer struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESMailer creates a new AWS SES mailer
func NewAWSSESMailer(region, fromAddress string, logger *slog.Logger) (*AWSSESMailer, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESMailer{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *AWSSESMailer) SendWelcome(ctx context.Context, email, username string) error {
	subject := "Welcome to Gatehouse"
	body := fmt.Sprintf(`Hi %s,

Your account has been created.

We recommend enabling two-factor authentication from your account settings
to protect your account with an authenticator app.

This is an automated message. Please do not reply to this email.
`, username)

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESMailer) SendLockoutNotice(ctx context.Context, email, username string, until time.Time) error {
	subject := "Security alert: your account has been temporarily locked"
	body := fmt.Sprintf(`Hi %s,

Your account was temporarily locked after repeated failed sign-in attempts.
You can sign in again after %s.

If this was not you, we recommend changing your password once the lock
expires.

This is an automated message. Please do not reply to this email.
`, username, until.UTC().Format(time.RFC1123))

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESMailer) SendMFAEnabledNotice(ctx context.Context, email, username string) error {
	subject := "Two-factor authentication enabled"
	body := fmt.Sprintf(`Hi %s,

Two-factor authentication was just enabled on your account. From now on,
signing in requires a code from your authenticator app.

If you did not do this, contact support immediately.

This is an automated message. Please do not reply to this email.
`, username)

	return s.send(ctx, email, subject, body)
}

func (s *AWSSESMailer) send(ctx context.Context, to, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("notification email sent", slog.String("subject", subject))
	return nil
}

// NoopMailer is used when email notifications are disabled
type NoopMailer struct{}

func (NoopMailer) SendWelcome(ctx context.Context, email, username string) error { return nil }
func (NoopMailer) SendLockoutNotice(ctx context.Context, email, username string, until time.Time) error {
	return nil
}
func (NoopMailer) SendMFAEnabledNotice(ctx context.Context, email, username string) error {
	return nil
}
