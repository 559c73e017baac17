package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "account.password_reset.finalize" }

// FinalizePasswordResetHandler redeems a reset code and replaces the
// password hash in one conditional update. The verification flag is left
// untouched: the reset flow is orthogonal to email verification.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	hasher   *CodeHasher
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, hasher *CodeHasher) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		hasher:   hasher,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.repo.Accounts().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			// an unknown email and a wrong code look the same here: the
			// caller already proved nothing
			if goerrors.IsNotFound(err) {
				return ErrInvalidCode
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
		}

		if account.ForgotPasswordCodeHash == nil {
			return ErrInvalidCode
		}

		if account.ForgotPasswordCodeExpired(time.Now()) {
			return ErrCodeExpired
		}

		if !h.hasher.Matches(event.Code, *account.ForgotPasswordCodeHash) {
			return ErrInvalidCode
		}

		passwordHash, err := HashPassword(event.NewPassword)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Accounts().ResetPasswordWithCodeTx(ctx, tx, account.ID, *account.ForgotPasswordCodeHash, passwordHash); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrInvalidCode
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account password")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}
