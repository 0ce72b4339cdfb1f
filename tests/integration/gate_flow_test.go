package integration

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	"github.com/jwhitfield/gatehouse/internal/services"
	pkgauth "github.com/jwhitfield/gatehouse/pkg/auth"
	pkglogger "github.com/jwhitfield/gatehouse/pkg/logger"
)

var (
	testDB     *TestDB
	setupOnce  sync.Once
	setupError error
)

// testEnv wires real repositories against the shared container
type testEnv struct {
	db       *TestDB
	gate     *services.GateService
	accounts services.AccountRepository
	attempts services.AttemptRepository
	hasher   *pkgauth.Hasher
	totp     *auth.TOTPManager
	tokens   *auth.TokenManager
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	setupOnce.Do(func() {
		testDB, setupError = SetupTestDatabase(context.Background())
	})
	if setupError != nil {
		t.Skipf("postgres container unavailable: %v", setupError)
	}

	require.NoError(t, testDB.CleanupTables(context.Background()))

	accountRepo, attemptRepo := InitializeRepositories(testDB.DB)

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	totpManager, err := auth.NewTOTPManager(key, "Gatehouse")
	require.NoError(t, err)

	tokenManager := auth.NewTokenManager("integration-test-secret-key", time.Hour, 5*time.Minute)
	hasher := pkgauth.NewHasher(bcrypt.MinCost)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	gate, err := services.NewGateService(
		accountRepo,
		attemptRepo,
		hasher,
		totpManager,
		tokenManager,
		nil,
		services.GateConfig{
			LockoutPolicy:    models.DefaultLockoutPolicy(),
			MFAMaxAttempts:   5,
			MFAAttemptWindow: 15 * time.Minute,
		},
		logger,
		pkglogger.NewAuditLogger(logger),
		nil,
	)
	require.NoError(t, err)

	return &testEnv{
		db:       testDB,
		gate:     gate,
		accounts: accountRepo,
		attempts: attemptRepo,
		hasher:   hasher,
		totp:     totpManager,
		tokens:   tokenManager,
	}
}

func TestPasswordLockoutFlow(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	accountRepo, _ := InitializeRepositories(env.db.DB)
	_, err := SeedAccount(ctx, accountRepo, env.hasher, "alice", "alice@example.com", "SecureP@ss123")
	require.NoError(t, err)

	// Failures below the threshold come back as invalid credentials
	for i := 0; i < 4; i++ {
		_, err := env.gate.BeginLogin(ctx, "alice", "WrongP@ss123", "10.0.0.1", "integration-test")
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	}

	// The fifth failure locks the account
	_, err = env.gate.BeginLogin(ctx, "alice", "WrongP@ss123", "10.0.0.1", "integration-test")
	var locked *models.LockedOutError
	require.ErrorAs(t, err, &locked)

	// The lock state survived the round trip through Postgres
	stored, err := env.accounts.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Security.FailedAttempts)
	require.NotNil(t, stored.Security.LockedUntil)

	// Even the correct password is refused while locked
	_, err = env.gate.BeginLogin(ctx, "alice", "SecureP@ss123", "10.0.0.1", "integration-test")
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestMFAEnrollmentAndLoginFlow(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	accountRepo, _ := InitializeRepositories(env.db.DB)
	acct, err := SeedAccount(ctx, accountRepo, env.hasher, "bob", "bob@example.com", "SecureP@ss123")
	require.NoError(t, err)

	enrollment, err := env.gate.EnrollMFA(ctx, acct.ID)
	require.NoError(t, err)

	// The enrollment is not active until one valid code confirms it
	stored, err := env.accounts.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAEnabled)
	assert.True(t, stored.HasPendingMFASecret())

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, env.gate.ConfirmMFAEnrollment(ctx, acct.ID, code))

	// Login now yields a challenge instead of a session
	result, err := env.gate.BeginLogin(ctx, "bob", "SecureP@ss123", "10.0.0.1", "integration-test")
	require.NoError(t, err)
	require.True(t, result.MFARequired)
	require.NotEmpty(t, result.ChallengeToken)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	granted, err := env.gate.CompleteMFA(ctx, result.ChallengeToken, code, "10.0.0.1", "integration-test")
	require.NoError(t, err)
	require.NotEmpty(t, granted.SessionToken)

	claims, err := env.tokens.ValidateToken(granted.SessionToken, models.TokenTypeSession)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, claims.AccountID)
}

func TestAccountUniqueness_CaseInsensitive(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	accountRepo, _ := InitializeRepositories(env.db.DB)
	_, err := SeedAccount(ctx, accountRepo, env.hasher, "Carol", "carol@example.com", "SecureP@ss123")
	require.NoError(t, err)

	// Username uniqueness is case-insensitive at the schema level
	_, err = SeedAccount(ctx, accountRepo, env.hasher, "carol", "other@example.com", "SecureP@ss123")
	assert.ErrorIs(t, err, models.ErrConflict)

	// Lookups match regardless of case
	found, err := env.accounts.GetByUsername(ctx, "CAROL")
	require.NoError(t, err)
	assert.Equal(t, "Carol", found.Username)
}

func TestSecurityStateWrite_KeepsCommittedLock(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	accountRepo, _ := InitializeRepositories(env.db.DB)
	acct, err := SeedAccount(ctx, accountRepo, env.hasher, "erin", "erin@example.com", "SecureP@ss123")
	require.NoError(t, err)

	until := time.Now().Add(15 * time.Minute)
	require.NoError(t, accountRepo.UpdateSecurityState(ctx, acct.ID,
		models.SecurityState{FailedAttempts: 5, LockedUntil: &until}))

	// A failure transition computed from a read taken before the lock landed
	// must not shrink the counter or lift the lock
	require.NoError(t, accountRepo.UpdateSecurityState(ctx, acct.ID,
		models.SecurityState{FailedAttempts: 2}))

	stored, err := env.accounts.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Security.FailedAttempts)
	require.NotNil(t, stored.Security.LockedUntil)
	assert.WithinDuration(t, until, *stored.Security.LockedUntil, time.Second)

	// A clearing write (password success or expired lock) applies as-is
	require.NoError(t, accountRepo.UpdateSecurityState(ctx, acct.ID, models.SecurityState{}))

	stored, err = env.accounts.GetByID(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Security.FailedAttempts)
	assert.Nil(t, stored.Security.LockedUntil)
}

func TestLoginAttempts_CountAndPrune(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	accountRepo, attemptRepo := InitializeRepositories(env.db.DB)
	acct, err := SeedAccount(ctx, accountRepo, env.hasher, "dave", "dave@example.com", "SecureP@ss123")
	require.NoError(t, err)

	now := time.Now()
	reason := "invalid_code"
	for i := 0; i < 3; i++ {
		require.NoError(t, attemptRepo.RecordAttempt(ctx, &models.LoginAttempt{
			AccountID:     &acct.ID,
			Username:      acct.Username,
			Stage:         models.AttemptStageMFA,
			IPAddress:     "10.0.0.1",
			UserAgent:     "integration-test",
			Success:       false,
			FailureReason: &reason,
			AttemptedAt:   now,
			ExpiresAt:     now.Add(30 * time.Minute),
		}))
	}

	count, err := attemptRepo.CountFailedMFAAttempts(ctx, acct.ID, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// An already-expired row is removed by the pruner
	require.NoError(t, attemptRepo.RecordAttempt(ctx, &models.LoginAttempt{
		AccountID:   &acct.ID,
		Username:    acct.Username,
		Stage:       models.AttemptStagePassword,
		IPAddress:   "10.0.0.1",
		UserAgent:   "integration-test",
		Success:     true,
		AttemptedAt: now.Add(-48 * time.Hour),
		ExpiresAt:   now.Add(-24 * time.Hour),
	}))

	deleted, err := attemptRepo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
