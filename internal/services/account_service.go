package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwhitfield/gatehouse/internal/models"
	pkgauth "github.com/jwhitfield/gatehouse/pkg/auth"
	pkglogger "github.com/jwhitfield/gatehouse/pkg/logger"
)

// AccountService handles registration and account lookups
type AccountService struct {
	accounts    AccountRepository
	hasher      PasswordHasher
	mailer      Mailer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(accounts AccountRepository, hasher PasswordHasher, mailer Mailer, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AccountService {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	return &AccountService{
		accounts:    accounts,
		hasher:      hasher,
		mailer:      mailer,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// AccountResponse represents an account in HTTP responses
type AccountResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	MFAEnabled  bool    `json:"mfa_enabled"`
	CreatedAt   string  `json:"created_at"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
}

// Register creates a new account with a freshly hashed password. Username
// and email collisions surface as models.ErrConflict from the storage
// layer's case-insensitive unique indexes.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*AccountResponse, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	acct := &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
	}

	created, err := s.accounts.Create(ctx, acct)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: account already exists")
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account registered", slog.String("account_id", created.ID))
	s.auditLogger.LogAccountAction("account_registered", created.ID, "", nil)

	go func(email, username string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mailer.SendWelcome(ctx, email, username); err != nil {
			s.logger.Error("failed to send welcome email", slog.Any("error", err))
		}
	}(created.Email, created.Username)

	return accountToResponse(created), nil
}

// Get fetches an account by ID
func (s *AccountService) Get(ctx context.Context, id string) (*AccountResponse, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to fetch account", slog.String("account_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return accountToResponse(acct), nil
}

// accountToResponse converts an account model to its response DTO
func accountToResponse(acct *models.Account) *AccountResponse {
	resp := &AccountResponse{
		ID:         acct.ID,
		Username:   acct.Username,
		Email:      acct.Email,
		MFAEnabled: acct.MFAEnabled,
		CreatedAt:  acct.CreatedAt.Format(time.RFC3339),
	}
	if acct.LastLoginAt != nil {
		lastLogin := acct.LastLoginAt.Format(time.RFC3339)
		resp.LastLoginAt = &lastLogin
	}
	return resp
}
