package accounts_test

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	accounts "github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bcrypt at the production cost is slow, cache hashes across tests
var hashCache sync.Map

func hashPassword(t *testing.T, password string) string {
	t.Helper()

	if cached, ok := hashCache.Load(password); ok {
		return cached.(string)
	}

	hash, err := accounts.HashPassword(password)
	require.NoError(t, err)

	hashCache.Store(password, hash)
	return hash
}

func testConfig() accounts.Config {
	return accounts.Config{
		SigningKey: "test-signing-key",
		CodeSecret: "test-code-secret",
		Issuer:     "accounts-test",
	}
}

func newTestHasher(t *testing.T) *accounts.CodeHasher {
	t.Helper()

	hasher, err := accounts.NewCodeHasher(testConfig())
	require.NoError(t, err)
	return hasher
}

func seedAccount(t *testing.T, repo *memRepo, email, password string, verified bool) *accounts.Account {
	t.Helper()

	return repo.accounts.add(&accounts.Account{
		Email:         email,
		PasswordHash:  hashPassword(t, password),
		EmailVerified: verified,
	})
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func assertTextCode(t *testing.T, err error, textCode string) {
	t.Helper()

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, textCode, richErr.TextCode)
}

func expiredRegisteredClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    "accounts-test",
		Subject:   "account-1",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
}
