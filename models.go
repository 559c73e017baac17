package accounts

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the credential record backing a single identity. The two
// code/expiry pairs have independent lifecycles: one drives email
// verification, the other the forgot-password flow.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string    `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string    `bun:"password_hash,notnull" json:"-"`
	EmailVerified bool      `bun:"is_email_verified" json:"is_email_verified"`

	VerificationCodeHash      *string    `bun:"verification_code_hash" json:"-"`
	VerificationCodeExpiresAt *time.Time `bun:"verification_code_expires_at,nullzero" json:"-"`

	ForgotPasswordCodeHash      *string    `bun:"forgot_password_code_hash" json:"-"`
	ForgotPasswordCodeExpiresAt *time.Time `bun:"forgot_password_code_expires_at,nullzero" json:"-"`

	LoginAttempts  int        `bun:"login_attempts" json:"-"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"-"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email so uniqueness checks and
// lookups agree on a single canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPendingVerification reports whether an unexpired verification code is
// stored. The hash and expiry are always set or cleared together.
func (a *Account) HasPendingVerification(now time.Time) bool {
	return a.VerificationCodeHash != nil &&
		a.VerificationCodeExpiresAt != nil &&
		now.Before(*a.VerificationCodeExpiresAt)
}

// HasPendingPasswordReset reports whether an unexpired reset code is stored.
func (a *Account) HasPendingPasswordReset(now time.Time) bool {
	return a.ForgotPasswordCodeHash != nil &&
		a.ForgotPasswordCodeExpiresAt != nil &&
		now.Before(*a.ForgotPasswordCodeExpiresAt)
}

// VerificationCodeExpired reports a present but stale verification code.
func (a *Account) VerificationCodeExpired(now time.Time) bool {
	return a.VerificationCodeHash != nil &&
		(a.VerificationCodeExpiresAt == nil || !now.Before(*a.VerificationCodeExpiresAt))
}

// ForgotPasswordCodeExpired reports a present but stale reset code.
func (a *Account) ForgotPasswordCodeExpired(now time.Time) bool {
	return a.ForgotPasswordCodeHash != nil &&
		(a.ForgotPasswordCodeExpiresAt == nil || !now.Before(*a.ForgotPasswordCodeExpiresAt))
}
