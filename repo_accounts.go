package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// The conditional updates below key on the stored code hash (or the current
// password hash) so that two racing requests cannot both succeed: the first
// UPDATE clears the column, the second matches zero rows.

var markVerifiedSQL = `UPDATE "accounts" AS "acc"
SET
	"is_email_verified" = TRUE,
	"verification_code_hash" = NULL,
	"verification_code_expires_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."verification_code_hash" = ?
RETURNING *;`

var setVerificationCodeSQL = `UPDATE "accounts" AS "acc"
SET
	"verification_code_hash" = ?,
	"verification_code_expires_at" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."is_email_verified" = FALSE
RETURNING *;`

var setForgotPasswordCodeSQL = `UPDATE "accounts" AS "acc"
SET
	"forgot_password_code_hash" = ?,
	"forgot_password_code_expires_at" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
RETURNING *;`

var resetPasswordWithCodeSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"forgot_password_code_hash" = NULL,
	"forgot_password_code_expires_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."forgot_password_code_hash" = ?
RETURNING *;`

var changePasswordSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."deleted_at" IS NULL
AND "acc"."id" = ?
AND "acc"."password_hash" = ?
RETURNING *;`

// Accounts is the credential store surface the command handlers depend on.
type Accounts interface {
	repository.Repository[*Account]

	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)

	// GetByIdentifier resolves an account by id or email. Session lookups
	// carry the account UUID, login payloads carry the email.
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error)
	GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error)

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)

	// SetVerificationCodeTx stores a code digest and expiry pair. It fails
	// with a not-found error when the account is already verified.
	SetVerificationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error

	// MarkVerifiedTx flips the verified flag and clears the code pair in a
	// single conditional update keyed on the stored digest.
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string) error

	SetForgotPasswordCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error

	// ResetPasswordWithCodeTx swaps the password hash and clears the reset
	// pair, keyed on the stored digest.
	ResetPasswordWithCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash, passwordHash string) error

	// ChangePasswordTx swaps the password hash keyed on the previous hash.
	ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, currentHash, newHash string) error

	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error
}

type accountsRepo struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts                        = (*accountsRepo)(nil)
	_ repository.Repository[*Account] = (*accountsRepo)(nil)
)

// NewAccountsRepository creates the bun-backed credential store.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accountsRepo{
		Repository: repo,
		db:         db,
	}
}

func (a *accountsRepo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *accountsRepo) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

func (a *accountsRepo) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accountsRepo) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"identifier": identifier,
			})
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *accountsRepo) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accountsRepo) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	prepareAccountDefaults(account)
	return a.Repository.CreateTx(ctx, tx, account)
}

func (a *accountsRepo) SetVerificationCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	return a.conditionalUpdate(ctx, tx, setVerificationCodeSQL, codeHash, expiresAt, id.String())
}

func (a *accountsRepo) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string) error {
	return a.conditionalUpdate(ctx, tx, markVerifiedSQL, id.String(), codeHash)
}

func (a *accountsRepo) SetForgotPasswordCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash string, expiresAt time.Time) error {
	return a.conditionalUpdate(ctx, tx, setForgotPasswordCodeSQL, codeHash, expiresAt, id.String())
}

func (a *accountsRepo) ResetPasswordWithCodeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, codeHash, passwordHash string) error {
	return a.conditionalUpdate(ctx, tx, resetPasswordWithCodeSQL, passwordHash, id.String(), codeHash)
}

func (a *accountsRepo) ChangePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, currentHash, newHash string) error {
	return a.conditionalUpdate(ctx, tx, changePasswordSQL, newHash, id.String(), currentHash)
}

// conditionalUpdate runs a compare-and-set statement; zero affected rows is
// reported as a record-not-found error so callers can map it to their domain
// outcome (invalid code, stale password, already verified).
func (a *accountsRepo) conditionalUpdate(ctx context.Context, tx bun.IDB, query string, args ...any) error {
	res, err := a.Repository.RawTx(ctx, tx, query, args...)
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound()
	}

	return nil
}

func (a *accountsRepo) TrackAttemptedLogin(ctx context.Context, account *Account) error {
	_, err := a.db.NewRaw(`
		UPDATE "accounts" AS "acc"
		SET
			"login_attempts" = COALESCE("login_attempts", 0) + 1,
			"login_attempt_at" = ?
		WHERE "acc"."deleted_at" IS NULL AND "acc"."id" = ?`,
		time.Now(), account.ID.String(),
	).Exec(ctx)
	return err
}

func (a *accountsRepo) TrackSuccessfulLogin(ctx context.Context, account *Account) error {
	_, err := a.db.NewRaw(`
		UPDATE "accounts" AS "acc"
		SET
			"login_attempts" = 0,
			"login_attempt_at" = NULL,
			"loggedin_at" = ?
		WHERE "acc"."deleted_at" IS NULL AND "acc"."id" = ?`,
		time.Now(), account.ID.String(),
	).Exec(ctx)
	return err
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "email",
		value:  NormalizeEmail(trimmed),
	})

	return options
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func prepareAccountDefaults(account *Account) {
	if account == nil {
		return
	}

	account.Email = NormalizeEmail(account.Email)

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
}
