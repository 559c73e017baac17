package accounts

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// AccountTracker is the store surface the provider needs to resolve and
// throttle identities.
type AccountTracker interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error)
	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error
}

// MaxLoginAttempts is the maximum number of attempts an account gets
// in a period before the cool down kicks in.
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// AccountProvider resolves identities against the credential store. Failed
// lookups and password mismatches are indistinguishable from the outside.
type AccountProvider struct {
	store    AccountTracker
	throttle bool
	logger   Logger
}

// NewAccountProvider will create a new AccountProvider
func NewAccountProvider(store AccountTracker) *AccountProvider {
	return &AccountProvider{
		store:    store,
		throttle: true,
		logger:   defLogger{},
	}
}

func (p *AccountProvider) WithLogger(l Logger) *AccountProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

// WithoutThrottling disables the login attempt cool down. The core contract
// does not require throttling; it is on by default as a pluggable guard.
func (p *AccountProvider) WithoutThrottling() *AccountProvider {
	p.throttle = false
	return p
}

// VerifyIdentity will find the account, compare the password, and return the identity
func (p *AccountProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	account, err := p.store.GetByEmail(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account during verification")
	}

	if account == nil {
		return nil, ErrIdentityNotFound
	}

	if p.throttle {
		if account.LoginAttemptAt != nil {
			expired, err := IsOutsideThresholdPeriod(*account.LoginAttemptAt, CoolDownPeriod)
			if err != nil {
				return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cooldown")
			}

			if expired {
				account.LoginAttempts = 0
			}
		}

		if account.LoginAttempts > MaxLoginAttempts {
			return nil, ErrTooManyLoginAttempts
		}
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		if p.throttle {
			if err2 := p.store.TrackAttemptedLogin(ctx, account); err2 != nil {
				return nil, goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
			}
		}

		return nil, ErrMismatchedHashAndPassword
	}

	if p.throttle {
		if err := p.store.TrackSuccessfulLogin(ctx, account); err != nil {
			p.logger.Error("failed to track successful login", "error", err)
		}
	}

	return accountIdentity{
		id:       account.ID.String(),
		email:    account.Email,
		verified: account.EmailVerified,
	}, nil
}

// FindIdentityByIdentifier resolves an identity by account id or email.
// Sessions carry the account UUID, so this must not assume an email.
func (p *AccountProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	account, err := p.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	if account == nil {
		return nil, ErrIdentityNotFound
	}

	return accountIdentity{
		id:       account.ID.String(),
		email:    account.Email,
		verified: account.EmailVerified,
	}, nil
}

type accountIdentity struct {
	id       string
	email    string
	verified bool
}

func (a accountIdentity) ID() string {
	return a.id
}

func (a accountIdentity) Email() string {
	return a.email
}

func (a accountIdentity) Verified() bool {
	return a.verified
}

var _ Identity = accountIdentity{}
