package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwhitfield/gatehouse/internal/models"
)

// TokenManager issues and validates the two token kinds the service hands
// out: session tokens for fully authenticated accounts, and short-lived MFA
// challenge tokens that reference a password-verified login awaiting its
// TOTP step.
type TokenManager struct {
	secret          string
	sessionExpiry   time.Duration
	challengeExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, sessionExpiry, challengeExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:          secret,
		sessionExpiry:   sessionExpiry,
		challengeExpiry: challengeExpiry,
	}
}

// GenerateSessionToken creates a session token for a fully authenticated account
func (tm *TokenManager) GenerateSessionToken(accountID, username string) (string, error) {
	return tm.generate(models.TokenTypeSession, accountID, username, tm.sessionExpiry)
}

// GenerateChallengeToken creates the pending-login reference returned when a
// password check succeeds on an MFA-enrolled account. It grants nothing but
// the right to attempt the TOTP step before it expires.
func (tm *TokenManager) GenerateChallengeToken(accountID, username string) (string, error) {
	return tm.generate(models.TokenTypeMFAChallenge, accountID, username, tm.challengeExpiry)
}

func (tm *TokenManager) generate(tokenType, accountID, username string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:      tokenType,
		AccountID: accountID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token of the expected type and returns its claims
func (tm *TokenManager) ValidateToken(tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != expectedType {
		return nil, models.ErrUnauthorized
	}

	if claims.AccountID == "" {
		return nil, fmt.Errorf("invalid token: missing account reference")
	}

	return claims, nil
}
