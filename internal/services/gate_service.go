package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	pkglogger "github.com/jwhitfield/gatehouse/pkg/logger"
)

// AccountRepository defines the persistence operations the gate requires.
// The store must enforce case-insensitive uniqueness on username and email
// and serialize the fetch-then-save sequence per account.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateSecurityState(ctx context.Context, id string, st models.SecurityState) error
	UpdateMFA(ctx context.Context, id string, enabled bool, secretEncrypted, secretNonce []byte, enrolledAt *time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// AttemptRepository records authentication attempts and backs the MFA-step
// failed-attempt counter
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedMFAAttempts(ctx context.Context, accountID string, since time.Time) (int, error)
}

// PasswordHasher abstracts the adaptive password hash so tests can swap in
// a cheap fake and assert the gate skips verification while locked
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) bool
}

// GateConfig holds the gate's tunables
type GateConfig struct {
	LockoutPolicy    models.LockoutPolicy
	MFAMaxAttempts   int
	MFAAttemptWindow time.Duration
}

// GateService is the authentication decision engine. It combines the
// password credential, the TOTP challenge, and the per-account security
// state into the login state machine: credentials in, a granted session or
// an MFA challenge (or a denial) out. It holds no per-request state of its
// own; everything mutable lives on the persisted account record.
type GateService struct {
	accounts AccountRepository
	attempts AttemptRepository
	hasher   PasswordHasher
	totp     *auth.TOTPManager
	tokens   *auth.TokenManager
	mailer   Mailer
	config   GateConfig

	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	// Injectable clock for lockout and TOTP computation
	now func() time.Time

	// Burned against unknown usernames so not-found and wrong-password
	// denials cost the same hashing work
	dummyHash string
}

// NewGateService creates a new GateService. A nil clock defaults to
// time.Now.
func NewGateService(
	accounts AccountRepository,
	attempts AttemptRepository,
	hasher PasswordHasher,
	totp *auth.TOTPManager,
	tokens *auth.TokenManager,
	mailer Mailer,
	config GateConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	clock func() time.Time,
) (*GateService, error) {
	if clock == nil {
		clock = time.Now
	}
	if mailer == nil {
		mailer = NoopMailer{}
	}

	dummyHash, err := hasher.Hash("gatehouse-timing-mask")
	if err != nil {
		return nil, err
	}

	return &GateService{
		accounts:    accounts,
		attempts:    attempts,
		hasher:      hasher,
		totp:        totp,
		tokens:      tokens,
		mailer:      mailer,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		now:         clock,
		dummyHash:   dummyHash,
	}, nil
}

// LoginResult is the outcome of a successful BeginLogin or CompleteMFA call
type LoginResult struct {
	MFARequired    bool             `json:"mfa_required"`
	ChallengeToken string           `json:"challenge_token,omitempty"`
	SessionToken   string           `json:"session_token,omitempty"`
	Account        *AccountResponse `json:"account,omitempty"`
}

// BeginLogin runs the password step of the login state machine.
//
// Unknown usernames and wrong passwords both come back as
// models.ErrInvalidCredentials, and an unknown username still burns one
// hash comparison, so neither the message nor the response time reveals
// whether the account exists.
func (s *GateService) BeginLogin(ctx context.Context, username, password, ipAddress, userAgent string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, models.ErrInvalidCredentials
	}

	now := s.now()

	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Timing mask: spend the same hashing work as a real mismatch
			s.hasher.Compare(s.dummyHash, password)
			s.recordAttempt(ctx, nil, username, models.AttemptStagePassword, ipAddress, userAgent, false, "unknown_username")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     ipAddress,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to fetch account for login", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Lockout check comes before password verification so a locked account
	// spends no hashing work and cannot have its lock clock reset
	security, outcome := s.config.LockoutPolicy.CheckLockout(acct.Security, now)
	if outcome.Kind == models.OutcomeLockedOut {
		s.recordAttempt(ctx, &acct.ID, username, models.AttemptStagePassword, ipAddress, userAgent, false, "locked_out")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     acct.ID,
			IPAddress:     ipAddress,
			FailureReason: "locked_out",
			Success:       false,
		})
		return nil, &models.LockedOutError{Remaining: outcome.Remaining}
	}

	// An expired lock is cleared by the check; persist the fresh window
	// before the password step so a following failure counts from zero
	if security != acct.Security {
		if err := s.accounts.UpdateSecurityState(ctx, acct.ID, security); err != nil {
			s.logger.Error("failed to persist security state", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		acct.Security = security
	}

	if !s.hasher.Compare(acct.PasswordHash, password) {
		newState, outcome := s.config.LockoutPolicy.PasswordFailed(acct.Security, now)
		if err := s.accounts.UpdateSecurityState(ctx, acct.ID, newState); err != nil {
			s.logger.Error("failed to persist security state", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.recordAttempt(ctx, &acct.ID, username, models.AttemptStagePassword, ipAddress, userAgent, false, "wrong_password")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     acct.ID,
			IPAddress:     ipAddress,
			FailureReason: "invalid_credentials",
			Success:       false,
		})

		if outcome.Kind == models.OutcomeLockedOut {
			s.logger.Warn("account locked after repeated failures",
				slog.String("account_id", acct.ID),
				slog.Int("failed_attempts", newState.FailedAttempts))
			if newState.LockedUntil != nil {
				s.notifyLockout(acct, *newState.LockedUntil)
			}
			return nil, &models.LockedOutError{Remaining: outcome.Remaining}
		}
		return nil, models.ErrInvalidCredentials
	}

	newState, outcome := s.config.LockoutPolicy.PasswordSucceeded(acct.Security, now)
	if outcome.Kind == models.OutcomeLockedOut {
		// Correct password while still locked does not open the gate early
		return nil, &models.LockedOutError{Remaining: outcome.Remaining}
	}
	if newState != acct.Security {
		if err := s.accounts.UpdateSecurityState(ctx, acct.ID, newState); err != nil {
			s.logger.Error("failed to persist security state", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
	}

	if acct.MFAEnabled {
		challengeToken, err := s.tokens.GenerateChallengeToken(acct.ID, acct.Username)
		if err != nil {
			s.logger.Error("failed to generate challenge token", slog.String("account_id", acct.ID), slog.Any("error", err))
			return nil, models.ErrInternalServer
		}

		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType: "login_mfa_challenge",
			AccountID: acct.ID,
			IPAddress: ipAddress,
			Success:   true,
		})

		return &LoginResult{MFARequired: true, ChallengeToken: challengeToken}, nil
	}

	return s.grant(ctx, acct, models.AttemptStagePassword, ipAddress, userAgent)
}

// CompleteMFA runs the TOTP step against a pending challenge token. An
// invalid code leaves the challenge usable for another try until the token
// expires or the failed-attempt counter for the MFA step crosses its
// threshold.
func (s *GateService) CompleteMFA(ctx context.Context, challengeToken, code, ipAddress, userAgent string) (*LoginResult, error) {
	claims, err := s.tokens.ValidateToken(challengeToken, models.TokenTypeMFAChallenge)
	if err != nil {
		return nil, models.ErrChallengeExpired
	}

	now := s.now()

	acct, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to fetch account for MFA", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// The account may have changed since the password step
	if !acct.MFAEnabled || len(acct.TOTPSecretEncrypted) == 0 {
		return nil, models.ErrUnauthorized
	}

	failedCount, err := s.attempts.CountFailedMFAAttempts(ctx, acct.ID, now.Add(-s.config.MFAAttemptWindow))
	if err != nil {
		s.logger.Error("failed to count MFA attempts", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if failedCount >= s.config.MFAMaxAttempts {
		s.recordAttempt(ctx, &acct.ID, acct.Username, models.AttemptStageMFA, ipAddress, userAgent, false, "rate_limited")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_failed",
			AccountID:     acct.ID,
			IPAddress:     ipAddress,
			FailureReason: "rate_limited",
			Success:       false,
		})
		return nil, models.ErrMFARateLimited
	}

	secret, err := s.totp.DecryptSecret(acct.TOTPSecretEncrypted, acct.TOTPSecretNonce)
	if err != nil {
		// A secret that cannot be decrypted is a verification failure, not
		// a surfaced storage error
		s.logger.Error("failed to decrypt TOTP secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		s.recordAttempt(ctx, &acct.ID, acct.Username, models.AttemptStageMFA, ipAddress, userAgent, false, "malformed_secret")
		return nil, models.ErrInvalidMFACode
	}

	if !s.totp.Verify(secret, code, now) {
		s.recordAttempt(ctx, &acct.ID, acct.Username, models.AttemptStageMFA, ipAddress, userAgent, false, "invalid_code")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_failed",
			AccountID:     acct.ID,
			IPAddress:     ipAddress,
			FailureReason: "invalid_code",
			Success:       false,
		})
		return nil, models.ErrInvalidMFACode
	}

	return s.grant(ctx, acct, models.AttemptStageMFA, ipAddress, userAgent)
}

// grant completes a full authentication: stamps last-login, records the
// attempt, and issues the session token
func (s *GateService) grant(ctx context.Context, acct *models.Account, stage, ipAddress, userAgent string) (*LoginResult, error) {
	now := s.now()

	sessionToken, err := s.tokens.GenerateSessionToken(acct.ID, acct.Username)
	if err != nil {
		s.logger.Error("failed to generate session token", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.UpdateLastLogin(ctx, acct.ID, now); err != nil {
		s.logger.Error("failed to update last login", slog.String("account_id", acct.ID), slog.Any("error", err))
	}
	acct.LastLoginAt = &now

	s.recordAttempt(ctx, &acct.ID, acct.Username, stage, ipAddress, userAgent, true, "")
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: acct.ID,
		IPAddress: ipAddress,
		Success:   true,
	})

	return &LoginResult{
		SessionToken: sessionToken,
		Account:      accountToResponse(acct),
	}, nil
}

// MFAEnrollment is returned by EnrollMFA for the confirmation step
type MFAEnrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// EnrollMFA generates (or re-surfaces) an unconfirmed TOTP secret for the
// account. The enrolled flag stays false until ConfirmMFAEnrollment has
// seen one valid code, so a mistyped secret transcription cannot silently
// lock the owner out.
func (s *GateService) EnrollMFA(ctx context.Context, accountID string) (*MFAEnrollment, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch account for MFA enrollment", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if acct.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	// Re-surface a pending secret so repeated setup requests stay stable
	if acct.HasPendingMFASecret() {
		if secret, err := s.totp.DecryptSecret(acct.TOTPSecretEncrypted, acct.TOTPSecretNonce); err == nil {
			return &MFAEnrollment{
				Secret:          secret,
				ProvisioningURI: s.totp.ProvisioningURI(secret, acct.Email),
			}, nil
		}
		// Undecryptable pending secret falls through to a fresh one
	}

	secret, err := s.totp.GenerateSecret(acct.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	encrypted, nonce, err := s.totp.EncryptSecret(secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.accounts.UpdateMFA(ctx, acct.ID, false, encrypted, nonce, nil); err != nil {
		s.logger.Error("failed to store TOTP secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("MFA enrollment started", slog.String("account_id", acct.ID))

	return &MFAEnrollment{
		Secret:          secret,
		ProvisioningURI: s.totp.ProvisioningURI(secret, acct.Email),
	}, nil
}

// ConfirmMFAEnrollment verifies one code against the pending secret and
// flips the enrolled flag
func (s *GateService) ConfirmMFAEnrollment(ctx context.Context, accountID, code string) error {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to fetch account for MFA confirmation", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if acct.MFAEnabled {
		return models.ErrMFAAlreadyEnabled
	}
	if !acct.HasPendingMFASecret() {
		return models.ErrMFANotEnrolled
	}

	secret, err := s.totp.DecryptSecret(acct.TOTPSecretEncrypted, acct.TOTPSecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt pending TOTP secret", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInvalidMFACode
	}

	if !s.totp.Verify(secret, code, s.now()) {
		return models.ErrInvalidMFACode
	}

	now := s.now()
	if err := s.accounts.UpdateMFA(ctx, acct.ID, true, acct.TOTPSecretEncrypted, acct.TOTPSecretNonce, &now); err != nil {
		s.logger.Error("failed to enable MFA", slog.String("account_id", acct.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("mfa_enabled", acct.ID, "", nil)

	go func(email, username string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mailer.SendMFAEnabledNotice(ctx, email, username); err != nil {
			s.logger.Error("failed to send MFA notice", slog.Any("error", err))
		}
	}(acct.Email, acct.Username)

	return nil
}

// DisableMFA clears the enrolled flag and the stored secret. Requiring a
// fresh session before calling this is the transport layer's job.
func (s *GateService) DisableMFA(ctx context.Context, accountID string) error {
	if err := s.accounts.UpdateMFA(ctx, accountID, false, nil, nil, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to disable MFA", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("mfa_disabled", accountID, "", nil)
	return nil
}

func (s *GateService) recordAttempt(ctx context.Context, accountID *string, username, stage, ipAddress, userAgent string, success bool, failureReason string) {
	attempt := &models.LoginAttempt{
		AccountID:   accountID,
		Username:    username,
		Stage:       stage,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
		Success:     success,
		AttemptedAt: s.now(),
		ExpiresAt:   s.now().Add(2 * s.config.MFAAttemptWindow),
	}
	if failureReason != "" {
		attempt.FailureReason = &failureReason
	}

	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}

func (s *GateService) notifyLockout(acct *models.Account, until time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mailer.SendLockoutNotice(ctx, acct.Email, acct.Username, until); err != nil {
			s.logger.Error("failed to send lockout notice", slog.Any("error", err))
		}
	}()
}
