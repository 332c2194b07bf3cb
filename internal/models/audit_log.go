package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction names an authentication event.
type AuditAction string

const (
	AuditActionRegister          AuditAction = "register"
	AuditActionLoginSuccess      AuditAction = "login_success"
	AuditActionLoginFailed       AuditAction = "login_failed"
	AuditActionLoginNewDevice    AuditAction = "login_new_device"
	AuditActionLoginMFAChallenge AuditAction = "login_mfa_challenge"
	AuditActionAccountLocked     AuditAction = "account_locked"
	AuditActionRefresh           AuditAction = "token_refresh"
	AuditActionRefreshReuse      AuditAction = "refresh_token_reuse"
	AuditActionLogout            AuditAction = "logout"
	AuditActionLogoutAll         AuditAction = "logout_all"
	AuditActionPasswordChange    AuditAction = "password_change"
	AuditActionPasswordResetReq  AuditAction = "password_reset_request"
	AuditActionPasswordReset     AuditAction = "password_reset"
	AuditActionMFAEnrollBegin    AuditAction = "mfa_enroll_begin"
	AuditActionMFAEnabled        AuditAction = "mfa_enabled"
	AuditActionMFADisabled       AuditAction = "mfa_disabled"
	AuditActionMFAFailed         AuditAction = "mfa_failed"
	AuditActionEmailVerified     AuditAction = "email_verified"
	AuditActionAnomalyDetected   AuditAction = "anomaly_detected"
)

// AuditLog is one persisted audit event.
type AuditLog struct {
	ID        uuid.UUID
	Action    AuditAction
	AccountID *string
	Success   bool
	IPAddress *string
	UserAgent *string
	Metadata  AuditMetadata
	CreatedAt time.Time
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]any

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value any) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = m
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(am))
}

// With returns a copy of am with key set to value.
func (am AuditMetadata) With(key string, value any) AuditMetadata {
	out := make(AuditMetadata, len(am)+1)
	for k, v := range am {
		out[k] = v
	}
	out[key] = value
	return out
}
