package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicy_PasswordFailed_IncrementsCounter(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()

	st := SecurityState{}
	st, outcome := policy.PasswordFailed(st, now)

	assert.Equal(t, 1, st.FailedAttempts)
	assert.Nil(t, st.LockedUntil)
	assert.Equal(t, OutcomeRejected, outcome.Kind)
}

func TestLockoutPolicy_PasswordFailed_LocksAtThreshold(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()

	st := SecurityState{}
	var outcome LoginOutcome
	for i := 0; i < policy.MaxFailedAttempts; i++ {
		st, outcome = policy.PasswordFailed(st, now)
	}

	assert.Equal(t, policy.MaxFailedAttempts, st.FailedAttempts)
	require.NotNil(t, st.LockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *st.LockedUntil)
	assert.Equal(t, OutcomeLockedOut, outcome.Kind)
	assert.Equal(t, 15*time.Minute, outcome.Remaining)
}

func TestLockoutPolicy_CheckLockout_ShortCircuitsWhileLocked(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()
	until := now.Add(10 * time.Minute)

	st := SecurityState{FailedAttempts: 5, LockedUntil: &until}
	next, outcome := policy.CheckLockout(st, now)

	assert.Equal(t, OutcomeLockedOut, outcome.Kind)
	assert.Equal(t, 10*time.Minute, outcome.Remaining)
	// State is untouched; the lock clock must not reset on further attempts
	assert.Equal(t, st, next)
}

func TestLockoutPolicy_CheckLockout_ProceedsAfterExpiry(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()
	until := now.Add(-time.Second)

	st := SecurityState{FailedAttempts: 5, LockedUntil: &until}
	next, outcome := policy.CheckLockout(st, now)

	assert.Equal(t, OutcomeProceed, outcome.Kind)
	// An expired lock clears the counter along with the lock, so the next
	// failure counts from zero instead of re-locking immediately
	assert.Equal(t, 0, next.FailedAttempts)
	assert.Nil(t, next.LockedUntil)
}

func TestLockoutPolicy_FailureAfterExpiry_StartsFreshWindow(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()
	until := now.Add(-time.Second)

	st := SecurityState{FailedAttempts: 5, LockedUntil: &until}
	st, _ = policy.CheckLockout(st, now)
	st, outcome := policy.PasswordFailed(st, now)

	assert.Equal(t, OutcomeRejected, outcome.Kind)
	assert.Equal(t, 1, st.FailedAttempts)
	assert.Nil(t, st.LockedUntil)
}

func TestLockoutPolicy_PasswordSucceeded_ResetsState(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()
	until := now.Add(-time.Minute) // expired lock

	st := SecurityState{FailedAttempts: 4, LockedUntil: &until}
	st, outcome := policy.PasswordSucceeded(st, now)

	assert.Equal(t, OutcomeProceed, outcome.Kind)
	assert.Equal(t, 0, st.FailedAttempts)
	assert.Nil(t, st.LockedUntil)
}

func TestLockoutPolicy_PasswordSucceeded_StillLocked(t *testing.T) {
	policy := DefaultLockoutPolicy()
	now := time.Now()
	until := now.Add(5 * time.Minute)

	st := SecurityState{FailedAttempts: 5, LockedUntil: &until}
	next, outcome := policy.PasswordSucceeded(st, now)

	// A correct password does not unlock the account early
	assert.Equal(t, OutcomeLockedOut, outcome.Kind)
	assert.Equal(t, 5*time.Minute, outcome.Remaining)
	assert.Equal(t, st, next)
}

func TestLockoutPolicy_CustomThreshold(t *testing.T) {
	policy := LockoutPolicy{MaxFailedAttempts: 2, LockoutDuration: time.Minute}
	now := time.Now()

	st := SecurityState{}
	st, _ = policy.PasswordFailed(st, now)
	st, outcome := policy.PasswordFailed(st, now)

	assert.Equal(t, OutcomeLockedOut, outcome.Kind)
	require.NotNil(t, st.LockedUntil)
	assert.Equal(t, now.Add(time.Minute), *st.LockedUntil)
}
