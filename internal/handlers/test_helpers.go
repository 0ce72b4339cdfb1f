package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	"github.com/jwhitfield/gatehouse/internal/services"
	pkghttp "github.com/jwhitfield/gatehouse/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds session claims to request context for testing
// authenticated endpoints
func WithSessionContext(req *http.Request, accountID, username string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeSession,
		AccountID: accountID,
		Username:  username,
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockGateService implements GateServiceInterface and MFAManagerInterface
// for testing
type MockGateService struct {
	BeginLoginFunc           func(ctx context.Context, username, password, ipAddress, userAgent string) (*services.LoginResult, error)
	CompleteMFAFunc          func(ctx context.Context, challengeToken, code, ipAddress, userAgent string) (*services.LoginResult, error)
	EnrollMFAFunc            func(ctx context.Context, accountID string) (*services.MFAEnrollment, error)
	ConfirmMFAEnrollmentFunc func(ctx context.Context, accountID, code string) error
	DisableMFAFunc           func(ctx context.Context, accountID string) error
}

func (m *MockGateService) BeginLogin(ctx context.Context, username, password, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.BeginLoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.BeginLoginFunc(ctx, username, password, ipAddress, userAgent)
}

func (m *MockGateService) CompleteMFA(ctx context.Context, challengeToken, code, ipAddress, userAgent string) (*services.LoginResult, error) {
	if m.CompleteMFAFunc == nil {
		return nil, models.ErrInvalidMFACode
	}
	return m.CompleteMFAFunc(ctx, challengeToken, code, ipAddress, userAgent)
}

func (m *MockGateService) EnrollMFA(ctx context.Context, accountID string) (*services.MFAEnrollment, error) {
	if m.EnrollMFAFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnrollMFAFunc(ctx, accountID)
}

func (m *MockGateService) ConfirmMFAEnrollment(ctx context.Context, accountID, code string) error {
	if m.ConfirmMFAEnrollmentFunc == nil {
		return models.ErrInvalidMFACode
	}
	return m.ConfirmMFAEnrollmentFunc(ctx, accountID, code)
}

func (m *MockGateService) DisableMFA(ctx context.Context, accountID string) error {
	if m.DisableMFAFunc == nil {
		return nil
	}
	return m.DisableMFAFunc(ctx, accountID)
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RegisterFunc func(ctx context.Context, username, email, password string) (*services.AccountResponse, error)
	GetFunc      func(ctx context.Context, id string) (*services.AccountResponse, error)
}

func (m *MockAccountService) Register(ctx context.Context, username, email, password string) (*services.AccountResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, username, email, password)
}

func (m *MockAccountService) Get(ctx context.Context, id string) (*services.AccountResponse, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, id)
}
