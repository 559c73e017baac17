package accounts

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the request-scoped view of a validated session token.
// It is derived, never persisted.
type SessionObject struct {
	AccountID      string         `json:"account_id,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetAccountID() string {
	return s.AccountID
}

func (s *SessionObject) GetAccountUUID() (uuid.UUID, error) {
	return uuid.Parse(s.AccountID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

// IsVerified reports the email verification flag the token was issued with.
func (s *SessionObject) IsVerified() bool {
	if s.Data == nil {
		return false
	}
	verified, ok := s.Data["email_verified"].(bool)
	return ok && verified
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"account=%s aud=%v iss=%s iat=%s",
		s.AccountID,
		s.Audience,
		s.Issuer,
		issuedAt,
	)
}

// sessionFromAuthClaims creates a SessionObject from validated claims
func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToParseData
	}

	data := map[string]any{
		"email_verified": claims.IsVerified(),
	}

	var audience []string
	var issuer string
	if jwtClaims, ok := claims.(*JWTClaims); ok {
		audience = append(audience, jwtClaims.RegisteredClaims.Audience...)
		issuer = jwtClaims.RegisteredClaims.Issuer
	}
	if issuer == "" {
		issuer = claims.Subject()
	}

	issuedAt := claims.IssuedAt()
	expiresAt := claims.Expires()

	return &SessionObject{
		AccountID:      claims.AccountID(),
		Audience:       audience,
		Issuer:         issuer,
		Data:           data,
		IssuedAt:       &issuedAt,
		ExpirationDate: &expiresAt,
	}, nil
}
