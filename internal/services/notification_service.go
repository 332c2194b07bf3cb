package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BradenHooton/warden/internal/events"
	"github.com/BradenHooton/warden/internal/models"
)

type NotificationType string

const (
	NotifyAccountLocked   NotificationType = "account_locked"
	NotifyNewDevice       NotificationType = "new_device"
	NotifyPasswordChanged NotificationType = "password_changed"
	NotifyMFAEnabled      NotificationType = "mfa_enabled"
	NotifyMFADisabled     NotificationType = "mfa_disabled"
)

var noticeSubjects = map[NotificationType]string{
	NotifyAccountLocked:   "Your account has been temporarily locked",
	NotifyNewDevice:       "New sign-in to your account",
	NotifyPasswordChanged: "Your password was changed",
	NotifyMFAEnabled:      "Two-factor authentication enabled",
	NotifyMFADisabled:     "Two-factor authentication disabled",
}

// Notifier receives security notifications. Implementations must not block
// the caller.
type Notifier interface {
	Notify(ctx context.Context, typ NotificationType, accountID string, payload map[string]any)
}

type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// NotificationService turns notifications into security notice emails,
// delivered on the event dispatcher.
type NotificationService struct {
	accounts   AccountLookup
	email      EmailService
	dispatcher *events.Dispatcher
	logger     *slog.Logger
}

func NewNotificationService(accounts AccountLookup, email EmailService, dispatcher *events.Dispatcher, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		accounts:   accounts,
		email:      email,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (s *NotificationService) Notify(ctx context.Context, typ NotificationType, accountID string, payload map[string]any) {
	if s.dispatcher == nil {
		if err := s.deliver(context.WithoutCancel(ctx), typ, accountID, payload); err != nil {
			s.logger.Warn("notification failed", slog.String("type", string(typ)), slog.Any("error", err))
		}
		return
	}

	accepted := s.dispatcher.Submit("notify:"+string(typ), func(ctx context.Context) error {
		return s.deliver(ctx, typ, accountID, payload)
	})
	if !accepted {
		s.logger.Warn("notification not queued",
			slog.String("type", string(typ)),
			slog.String("account_id", accountID))
	}
}

func (s *NotificationService) deliver(ctx context.Context, typ NotificationType, accountID string, payload map[string]any) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account for %s notice: %w", typ, err)
	}

	subject, ok := noticeSubjects[typ]
	if !ok {
		subject = "Security notice"
	}
	return s.email.SendSecurityNotice(ctx, account.Email, subject, noticeBody(typ, payload))
}

func noticeBody(typ NotificationType, payload map[string]any) string {
	var b strings.Builder
	switch typ {
	case NotifyAccountLocked:
		b.WriteString("We locked your account after several failed sign-in attempts.\n")
	case NotifyNewDevice:
		b.WriteString("Your account was just used to sign in from a device we have not seen before.\n")
	case NotifyPasswordChanged:
		b.WriteString("Your password was changed and all sessions were signed out.\n")
	case NotifyMFAEnabled:
		b.WriteString("Two-factor authentication is now enabled on your account.\n")
	case NotifyMFADisabled:
		b.WriteString("Two-factor authentication was turned off for your account.\n")
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, payload[k])
	}

	b.WriteString("\nIf this was not you, reset your password immediately.\n")
	return b.String()
}
