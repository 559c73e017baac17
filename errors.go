package accounts

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found")

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session")

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data")

// ErrNoEmptyString rejects empty secrets before they reach the hasher
var ErrNoEmptyString = errors.New("value should not be empty")

// Stable text codes surfaced in JSON error bodies. Clients key off these,
// not off messages.
const (
	TextCodeInvalidInput       = "INVALID_INPUT"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeUnauthenticated    = "UNAUTHENTICATED"
	TextCodeEmailTaken         = "EMAIL_TAKEN"
	TextCodeInvalidCode        = "INVALID_CODE"
	TextCodeCodeExpired        = "CODE_EXPIRED"
	TextCodeAlreadyVerified    = "ALREADY_VERIFIED"
	TextCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
)

// ErrInvalidInput is returned when a payload fails shape or policy validation.
var ErrInvalidInput = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials covers both an unknown identifier and a password
// mismatch so callers cannot enumerate accounts.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnauthenticated is returned when a protected operation has no valid session.
var ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned when signup hits an already registered email.
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCode is returned when a one-time code does not match the stored
// digest, including the case where a concurrent request already redeemed it.
var ErrInvalidCode = goerrors.New("invalid verification code", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidCode).
	WithCode(goerrors.CodeBadRequest)

// ErrCodeExpired is returned when a one-time code is past its expiry.
var ErrCodeExpired = goerrors.New("verification code expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeCodeExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyVerified is returned when requesting a code for a verified account.
var ErrAlreadyVerified = goerrors.New("account already verified", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

// ErrAccountNotFound is only surfaced where enumeration safety is not
// required, e.g. the forgot-password entry point.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrTokenExpired is returned when a session token is past its expiry.
var ErrTokenExpired = goerrors.New("session token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail to parse or verify.
var ErrTokenMalformed = goerrors.New("session token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned by the throttling collaborator when an
// account is cooling down.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryAuth).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is the internal marker for a bcrypt mismatch.
// It is mapped to ErrInvalidCredentials before it leaves the package.
var ErrMismatchedHashAndPassword = goerrors.New("hash and password mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenExpired {
		return true
	}

	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeTokenMalformed {
		return true
	}

	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
