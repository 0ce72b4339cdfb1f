package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types issued by the token manager
const (
	TokenTypeSession      = "session"
	TokenTypeMFAChallenge = "mfa_challenge"
)

// TokenClaims are the JWT claims carried by session and MFA challenge tokens.
// An MFA challenge token is the pending-login reference handed back by a
// password-only success on an MFA-enrolled account; it grants nothing except
// the right to attempt the TOTP step.
type TokenClaims struct {
	Type      string `json:"typ"`
	AccountID string `json:"sub_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}
