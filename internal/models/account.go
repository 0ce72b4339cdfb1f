package models

import (
	"time"
)

// Account represents a registered user account
type Account struct {
	ID           string
	Username     string // stored as entered; compared case-insensitively
	Email        string
	PasswordHash string

	// MFA enrollment. The secret may exist before MFAEnabled flips to true:
	// enrollment stores it encrypted, confirmation flips the flag after one
	// valid code has been observed.
	MFAEnabled          bool
	TOTPSecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	TOTPSecretNonce     []byte // GCM nonce (12 bytes)
	MFAEnrolledAt       *time.Time

	Security SecurityState

	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// HasPendingMFASecret reports whether a secret was generated but not yet
// confirmed. Logins ignore it; only MFAEnabled gates the challenge step.
func (a *Account) HasPendingMFASecret() bool {
	return !a.MFAEnabled && len(a.TOTPSecretEncrypted) > 0
}
