package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors. ErrInvalidCredentials covers both unknown
	// username and wrong password so response differences cannot be used
	// to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrInvalidMFACode     = errors.New("invalid verification code")
	ErrMFANotEnrolled     = errors.New("multi-factor authentication is not enrolled")
	ErrMFAAlreadyEnabled  = errors.New("multi-factor authentication is already enabled")
	ErrMFARateLimited     = errors.New("too many verification attempts")
	ErrChallengeExpired   = errors.New("authentication challenge expired")
)

// LockedOutError carries the remaining lock duration so callers can tell
// the user when to retry. errors.Is(err, ErrAccountLocked) matches it.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	minutes := int(e.Remaining.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account is temporarily locked, try again in %d minute(s)", minutes)
}

func (e *LockedOutError) Is(target error) bool {
	return target == ErrAccountLocked
}
