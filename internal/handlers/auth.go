package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	"github.com/jwhitfield/gatehouse/internal/services"
	pkgauth "github.com/jwhitfield/gatehouse/pkg/auth"
	pkghttp "github.com/jwhitfield/gatehouse/pkg/http"
)

// GateServiceInterface defines the interface for the authentication gate
type GateServiceInterface interface {
	BeginLogin(ctx context.Context, username, password, ipAddress, userAgent string) (*services.LoginResult, error)
	CompleteMFA(ctx context.Context, challengeToken, code, ipAddress, userAgent string) (*services.LoginResult, error)
}

// AccountServiceInterface defines the interface for account management
type AccountServiceInterface interface {
	Register(ctx context.Context, username, email, password string) (*services.AccountResponse, error)
	Get(ctx context.Context, id string) (*services.AccountResponse, error)
}

// AuthHandler handles registration and login HTTP requests
type AuthHandler struct {
	gate     GateServiceInterface
	accounts AccountServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gate GateServiceInterface, accounts AccountServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		gate:     gate,
		accounts: accounts,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// VerifyMFARequest represents the request body for the MFA login step
type VerifyMFARequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,len=6,numeric"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	resp, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		var pvErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &pvErr):
			// Password requirements are documented, not echoed back
			pkghttp.WriteBadRequest(w, "Password does not meet the security requirements")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Username or email is already taken")
		case errors.Is(err, models.ErrInternalServer):
			pkghttp.WriteInternalError(w, "Internal server error")
		default:
			pkghttp.WriteBadRequest(w, err.Error())
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// Login handles POST /auth/login, the password step of the login flow.
// On success the response carries either a session token or, when MFA is
// enabled, a short-lived challenge token for the verify step.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.gate.BeginLogin(r.Context(), req.Username, req.Password, ipAddress, userAgent)
	if err != nil {
		writeLoginError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// VerifyMFA handles POST /auth/mfa/verify, the TOTP step of the login flow
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	userAgent := r.Header.Get("User-Agent")

	result, err := h.gate.CompleteMFA(r.Context(), req.ChallengeToken, req.Code, ipAddress, userAgent)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteUnauthorized(w, "Challenge expired. Please log in again.")
		case errors.Is(err, models.ErrMFARateLimited):
			pkghttp.WriteTooManyRequests(w, "Too many verification attempts. Please try again later.")
		case errors.Is(err, models.ErrInvalidMFACode), errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// Me handles GET /me for the authenticated account
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	resp, err := h.accounts.Get(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Account not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// writeLoginError maps gate errors to responses. Invalid credentials stay a
// single indistinguishable 401; only lockout is surfaced distinctly, since
// the account owner needs to know when to retry.
func writeLoginError(w http.ResponseWriter, err error) {
	var locked *models.LockedOutError
	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.Error())
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid username or password")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
