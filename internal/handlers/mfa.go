package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/jwhitfield/gatehouse/internal/auth"
	"github.com/jwhitfield/gatehouse/internal/models"
	"github.com/jwhitfield/gatehouse/internal/services"
	pkghttp "github.com/jwhitfield/gatehouse/pkg/http"
)

// MFAManagerInterface defines the enrollment lifecycle operations
type MFAManagerInterface interface {
	EnrollMFA(ctx context.Context, accountID string) (*services.MFAEnrollment, error)
	ConfirmMFAEnrollment(ctx context.Context, accountID, code string) error
	DisableMFA(ctx context.Context, accountID string) error
}

// MFAHandler handles MFA enrollment HTTP requests
type MFAHandler struct {
	gate     MFAManagerInterface
	accounts services.AccountRepository
	hasher   services.PasswordHasher
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(gate MFAManagerInterface, accounts services.AccountRepository, hasher services.PasswordHasher, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		gate:     gate,
		accounts: accounts,
		hasher:   hasher,
		logger:   logger,
	}
}

// ConfirmMFASetupRequest represents the request body for setup confirmation
type ConfirmMFASetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest represents the request body for disabling MFA
type DisableMFARequest struct {
	Password string `json:"password" validate:"required"`
}

// MFASetupResponse carries the secret for manual entry, the provisioning
// URI, and a QR code rendering of the same URI
type MFASetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

// Setup handles POST /mfa/setup to begin MFA enrollment
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	enrollment, err := h.gate.EnrollMFA(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrMFAAlreadyEnabled) {
			pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
			return
		}
		h.logger.Error("failed to start MFA enrollment", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Setup failed")
		return
	}

	qrPNG, err := qrcode.Encode(enrollment.ProvisioningURI, qrcode.Medium, 256)
	if err != nil {
		h.logger.Error("failed to render QR code", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Setup failed")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MFASetupResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrPNG),
	})
}

// Confirm handles POST /mfa/setup/verify to confirm enrollment with one
// valid code
func (h *MFAHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ConfirmMFASetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.gate.ConfirmMFAEnrollment(r.Context(), claims.AccountID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidMFACode):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		case errors.Is(err, models.ErrMFANotEnrolled):
			pkghttp.WriteBadRequest(w, "No pending enrollment. Start setup first.")
		case errors.Is(err, models.ErrMFAAlreadyEnabled):
			pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
		default:
			h.logger.Error("failed to confirm MFA enrollment", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"mfa_enabled": true,
		"message":     "Two-factor authentication has been enabled",
	})
}

// Disable handles POST /mfa/disable. The current password is required so a
// hijacked session alone cannot strip the second factor.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req DisableMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	acct, err := h.accounts.GetByID(r.Context(), claims.AccountID)
	if err != nil {
		h.logger.Error("failed to fetch account", slog.Any("error", err))
		pkghttp.WriteUnauthorized(w, "Authentication failed")
		return
	}

	if !h.hasher.Compare(acct.PasswordHash, req.Password) {
		h.logger.Warn("invalid password for MFA disable", slog.String("account_id", claims.AccountID))
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
		return
	}

	if err := h.gate.DisableMFA(r.Context(), claims.AccountID); err != nil {
		h.logger.Error("failed to disable MFA", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to disable two-factor authentication")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"mfa_enabled": false,
		"message":     "Two-factor authentication has been disabled",
	})
}
