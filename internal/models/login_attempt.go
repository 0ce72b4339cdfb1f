package models

import "time"

// Login attempt stages
const (
	AttemptStagePassword = "password"
	AttemptStageMFA      = "mfa"
)

// LoginAttempt is an audit record of a single authentication attempt.
// MFA-stage rows also feed the failed-attempt counter that rate limits
// the TOTP step.
type LoginAttempt struct {
	ID            string
	AccountID     *string // nil when the username did not resolve to an account
	Username      string
	Stage         string // "password" or "mfa"
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason *string
	AttemptedAt   time.Time
	ExpiresAt     time.Time
}
