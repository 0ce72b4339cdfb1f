package models

import (
	"time"
)

// SecurityState holds the mutable per-account login-security fields.
// It is pure data; transitions live on LockoutPolicy.
type SecurityState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the state is locked out at the given instant.
func (st SecurityState) Locked(now time.Time) bool {
	return st.LockedUntil != nil && now.Before(*st.LockedUntil)
}

// LoginOutcomeKind classifies the result of a security-state transition
type LoginOutcomeKind int

const (
	// OutcomeProceed means the password step may continue (or succeeded)
	OutcomeProceed LoginOutcomeKind = iota
	// OutcomeRejected means the attempt failed; the caller must return the
	// generic denial message
	OutcomeRejected
	// OutcomeLockedOut means the account is temporarily locked
	OutcomeLockedOut
)

// LoginOutcome is the result of applying a login event to a SecurityState
type LoginOutcome struct {
	Kind      LoginOutcomeKind
	Remaining time.Duration // time left on the lock, set when Kind == OutcomeLockedOut
}

// LockoutPolicy holds the failed-attempt threshold and lock duration.
// Both are configuration tunables, not constants baked into the transitions.
type LockoutPolicy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// DefaultLockoutPolicy returns the standard policy: 5 failures, 15 minute lock
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
	}
}

// CheckLockout is evaluated before any password comparison. A locked account
// short-circuits the attempt so no hashing work is spent and the lock clock
// is not reset. Re-evaluating an expired lock clears it together with the
// failure counter, so the account gets a fresh window rather than re-locking
// on the next single failure.
func (p LockoutPolicy) CheckLockout(st SecurityState, now time.Time) (SecurityState, LoginOutcome) {
	if st.Locked(now) {
		return st, LoginOutcome{Kind: OutcomeLockedOut, Remaining: st.LockedUntil.Sub(now)}
	}
	if st.LockedUntil != nil {
		return SecurityState{}, LoginOutcome{Kind: OutcomeProceed}
	}
	return st, LoginOutcome{Kind: OutcomeProceed}
}

// PasswordSucceeded applies a successful password verification. If the
// account is still locked the state is unchanged; otherwise the failure
// counter and lock are cleared.
func (p LockoutPolicy) PasswordSucceeded(st SecurityState, now time.Time) (SecurityState, LoginOutcome) {
	if st.Locked(now) {
		return st, LoginOutcome{Kind: OutcomeLockedOut, Remaining: st.LockedUntil.Sub(now)}
	}
	return SecurityState{}, LoginOutcome{Kind: OutcomeProceed}
}

// PasswordFailed applies a failed password verification. Crossing the
// threshold sets LockedUntil strictly in the future.
func (p LockoutPolicy) PasswordFailed(st SecurityState, now time.Time) (SecurityState, LoginOutcome) {
	st.FailedAttempts++
	if st.FailedAttempts >= p.MaxFailedAttempts {
		until := now.Add(p.LockoutDuration)
		st.LockedUntil = &until
		return st, LoginOutcome{Kind: OutcomeLockedOut, Remaining: p.LockoutDuration}
	}
	return st, LoginOutcome{Kind: OutcomeRejected}
}
