package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	AccountID   string `json:"account_id"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (e ChangePasswordMessage) Type() string { return "account.password.change" }

// ChangePasswordHandler replaces the password hash for an authenticated,
// verified account. The swap is keyed on the current hash so a concurrent
// change cannot be silently overwritten.
type ChangePasswordHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

// NewChangePasswordHandler creates a handler with sane defaults.
func NewChangePasswordHandler(repo RepositoryManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password change events.
func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.repo.Accounts().GetByID(ctx, event.AccountID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrUnauthenticated
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
		}

		// password changes require a verified email on file
		if !account.EmailVerified {
			return ErrUnauthenticated
		}

		if err := ComparePasswordAndHash(event.OldPassword, account.PasswordHash); err != nil {
			return ErrInvalidCredentials
		}

		newHash, err := HashPassword(event.NewPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Accounts().ChangePasswordTx(ctx, tx, account.ID, account.PasswordHash, newHash); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrInvalidCredentials
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}
