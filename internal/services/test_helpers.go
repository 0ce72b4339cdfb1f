package services

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	pkgauth "github.com/jwhitfield/gatehouse/pkg/auth"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc             func(ctx context.Context, id string) (*models.Account, error)
	GetByUsernameFunc       func(ctx context.Context, username string) (*models.Account, error)
	GetByEmailFunc          func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc              func(ctx context.Context, acct *models.Account) (*models.Account, error)
	UpdateSecurityStateFunc func(ctx context.Context, id string, st models.SecurityState) error
	UpdateMFAFunc           func(ctx context.Context, id string, enabled bool, secretEncrypted, secretNonce []byte, enrolledAt *time.Time) error
	UpdateLastLoginFunc     func(ctx context.Context, id string, at time.Time) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, acct)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) UpdateSecurityState(ctx context.Context, id string, st models.SecurityState) error {
	if m.UpdateSecurityStateFunc != nil {
		return m.UpdateSecurityStateFunc(ctx, id, st)
	}
	return nil
}

func (m *MockAccountRepository) UpdateMFA(ctx context.Context, id string, enabled bool, secretEncrypted, secretNonce []byte, enrolledAt *time.Time) error {
	if m.UpdateMFAFunc != nil {
		return m.UpdateMFAFunc(ctx, id, enabled, secretEncrypted, secretNonce, enrolledAt)
	}
	return nil
}

func (m *MockAccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

// MockAttemptRepository implements AttemptRepository for testing
type MockAttemptRepository struct {
	RecordAttemptFunc          func(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedMFAAttemptsFunc func(ctx context.Context, accountID string, since time.Time) (int, error)
}

func (m *MockAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

func (m *MockAttemptRepository) CountFailedMFAAttempts(ctx context.Context, accountID string, since time.Time) (int, error) {
	if m.CountFailedMFAAttemptsFunc != nil {
		return m.CountFailedMFAAttemptsFunc(ctx, accountID, since)
	}
	return 0, nil
}

// CountingHasher wraps a cheap bcrypt hasher and counts Compare calls so
// tests can assert the gate skips verification while locked
type CountingHasher struct {
	inner        *pkgauth.Hasher
	mu           sync.Mutex
	CompareCalls int
}

func NewCountingHasher() *CountingHasher {
	return &CountingHasher{inner: pkgauth.NewHasher(bcrypt.MinCost)}
}

func (h *CountingHasher) Hash(password string) (string, error) {
	return h.inner.Hash(password)
}

func (h *CountingHasher) Compare(hashedPassword, password string) bool {
	h.mu.Lock()
	h.CompareCalls++
	h.mu.Unlock()
	return h.inner.Compare(hashedPassword, password)
}

// InMemoryAccountStore is a map-backed AccountRepository for flow tests
type InMemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{accounts: make(map[string]*models.Account)}
}

func (s *InMemoryAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		copied := *acct
		return &copied, nil
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryAccountStore) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if strings.EqualFold(acct.Username, username) {
			copied := *acct
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryAccountStore) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if strings.EqualFold(acct.Email, email) {
			copied := *acct
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *InMemoryAccountStore) Create(ctx context.Context, acct *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Username, acct.Username) || strings.EqualFold(existing.Email, acct.Email) {
			return nil, models.ErrConflict
		}
	}
	acct.ID = uuid.New().String()
	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	copied := *acct
	s.accounts[acct.ID] = &copied
	result := *acct
	return &result, nil
}

func (s *InMemoryAccountStore) UpdateSecurityState(ctx context.Context, id string, st models.SecurityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	acct.Security = st
	return nil
}

func (s *InMemoryAccountStore) UpdateMFA(ctx context.Context, id string, enabled bool, secretEncrypted, secretNonce []byte, enrolledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	acct.MFAEnabled = enabled
	acct.TOTPSecretEncrypted = secretEncrypted
	acct.TOTPSecretNonce = secretNonce
	acct.MFAEnrolledAt = enrolledAt
	return nil
}

func (s *InMemoryAccountStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	acct.LastLoginAt = &at
	return nil
}

// NewTestTOTPManager creates a TOTP manager with a random key for tests
func NewTestTOTPManager(t *testing.T) *auth.TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	tm, err := auth.NewTOTPManager(key, "Gatehouse")
	require.NoError(t, err)
	return tm
}

// NewTestAccount builds an account with a hashed password for tests
func NewTestAccount(t *testing.T, hasher PasswordHasher, username, email, password string) *models.Account {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	return &models.Account{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
}
