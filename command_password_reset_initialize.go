package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (e InitializePasswordResetMessage) Type() string { return "account.password_reset.initialize" }

// InitializePasswordResetHandler stores a reset code digest with an expiry
// and dispatches the cleartext code. An unknown email fails with
// ErrAccountNotFound, matching the route contract of the public API.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	hasher   *CodeHasher
	mailer   CodeMailer
	codeTTL  time.Duration
	activity ActivitySink
	logger   Logger
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, hasher *CodeHasher, mailer CodeMailer, cfg Config) *InitializePasswordResetHandler {
	cfg = cfg.WithDefaults()
	return &InitializePasswordResetHandler{
		repo:     repo,
		hasher:   hasher,
		mailer:   mailer,
		codeTTL:  cfg.CodeExpiration,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	code, err := h.hasher.Generate()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate reset code")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.repo.Accounts().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrAccountNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
		}

		expiresAt := time.Now().Add(h.codeTTL)
		if err := h.repo.Accounts().SetForgotPasswordCodeTx(ctx, tx, account.ID, h.hasher.Hash(code), expiresAt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store reset code")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if err := h.mailer.Send(ctx, account.Email, code); err != nil {
		h.logger.Error("reset code dispatch failed", "error", err, "account", account.ID.String())
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to dispatch reset code")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}
