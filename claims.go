package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents structured session token claims
type AuthClaims interface {
	Subject() string
	AccountID() string
	IsVerified() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID           string `json:"uid,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// AccountID returns the account ID
func (c *JWTClaims) AccountID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// IsVerified reports the email verification flag captured at issue time.
func (c *JWTClaims) IsVerified() bool {
	return c.EmailVerified
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = newTokenID()
	}
}
