package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService delivers the account emails this service generates.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendSecurityNotice(ctx context.Context, email, subject, body string) error
}

// EmailMessage is a rendered email ready to send.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

func verificationMessage(baseURL, email, token string, expiresAt time.Time) EmailMessage {
	link := fmt.Sprintf("%s/verify-email?token=%s", baseURL, url.QueryEscape(token))
	return EmailMessage{
		To:      email,
		Subject: "Verify your email address",
		Text: fmt.Sprintf("Welcome! Confirm your email address to activate your account:\n\n%s\n\n"+
			"This link expires at %s. If you did not create this account you can ignore this email.\n",
			link, expiresAt.UTC().Format(time.RFC1123)),
		HTML: fmt.Sprintf(`<p>Welcome! Confirm your email address to activate your account.</p>
<p><a href="%s">Verify email address</a></p>
<p>This link expires at %s. If you did not create this account you can ignore this email.</p>`,
			link, expiresAt.UTC().Format(time.RFC1123)),
	}
}

func passwordResetMessage(baseURL, email, token string, expiresAt time.Time) EmailMessage {
	link := fmt.Sprintf("%s/reset-password?token=%s", baseURL, url.QueryEscape(token))
	return EmailMessage{
		To:      email,
		Subject: "Reset your password",
		Text: fmt.Sprintf("A password reset was requested for your account:\n\n%s\n\n"+
			"This link can be used once and expires at %s. If you did not request it, no action is needed.\n",
			link, expiresAt.UTC().Format(time.RFC1123)),
		HTML: fmt.Sprintf(`<p>A password reset was requested for your account.</p>
<p><a href="%s">Reset password</a></p>
<p>This link can be used once and expires at %s. If you did not request it, no action is needed.</p>`,
			link, expiresAt.UTC().Format(time.RFC1123)),
	}
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	return s.send(ctx, verificationMessage(s.baseURL, email, token, expiresAt))
}

func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	return s.send(ctx, passwordResetMessage(s.baseURL, email, token, expiresAt))
}

func (s *AWSSESEmailService) SendSecurityNotice(ctx context.Context, email, subject, body string) error {
	return s.send(ctx, EmailMessage{To: email, Subject: subject, Text: body})
}

func (s *AWSSESEmailService) send(ctx context.Context, msg EmailMessage) error {
	body := &types.Body{
		Text: &types.Content{Data: aws.String(msg.Text)},
	}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML)}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body:    body,
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(msg.To)),
			slog.String("subject", msg.Subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailService writes emails to the log instead of sending them. Used in
// development; links are logged at debug level only.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.log(ctx, verificationMessage(s.baseURL, email, token, expiresAt))
	return nil
}

func (s *LogEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	s.log(ctx, passwordResetMessage(s.baseURL, email, token, expiresAt))
	return nil
}

func (s *LogEmailService) SendSecurityNotice(ctx context.Context, email, subject, body string) error {
	s.log(ctx, EmailMessage{To: email, Subject: subject, Text: body})
	return nil
}

func (s *LogEmailService) log(ctx context.Context, msg EmailMessage) {
	s.logger.InfoContext(ctx, "email suppressed (log provider)",
		slog.String("email", logger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject))
	s.logger.DebugContext(ctx, "email body", slog.String("subject", msg.Subject), slog.String("text", msg.Text))
}
