package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type SendVerificationCodeMessage struct {
	AccountID string `json:"account_id"`
}

func (e SendVerificationCodeMessage) Type() string { return "account.verification_code.send" }

// SendVerificationCodeHandler generates a one-time code, stores its digest
// with an expiry, and dispatches the cleartext code to the account's email.
// The dispatch outcome is part of the handler result, never swallowed.
type SendVerificationCodeHandler struct {
	repo     RepositoryManager
	hasher   *CodeHasher
	mailer   CodeMailer
	codeTTL  time.Duration
	activity ActivitySink
	logger   Logger
}

// NewSendVerificationCodeHandler creates a handler with sane defaults.
func NewSendVerificationCodeHandler(repo RepositoryManager, hasher *CodeHasher, mailer CodeMailer, cfg Config) *SendVerificationCodeHandler {
	cfg = cfg.WithDefaults()
	return &SendVerificationCodeHandler{
		repo:     repo,
		hasher:   hasher,
		mailer:   mailer,
		codeTTL:  cfg.CodeExpiration,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *SendVerificationCodeHandler) WithActivitySink(sink ActivitySink) *SendVerificationCodeHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *SendVerificationCodeHandler) WithLogger(logger Logger) *SendVerificationCodeHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SendVerificationCodeHandler) Execute(ctx context.Context, event SendVerificationCodeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while sending verification code",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SendVerificationCodeHandler) execute(ctx context.Context, event SendVerificationCodeMessage) error {
	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	code, err := h.hasher.Generate()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		account, err = h.repo.Accounts().GetByID(ctx, event.AccountID)
		if err != nil {
			if goerrors.IsNotFound(err) {
				return ErrUnauthenticated
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
		}

		if account.EmailVerified {
			return ErrAlreadyVerified
		}

		// a reissue overwrites any previous pending code and expiry together
		expiresAt := time.Now().Add(h.codeTTL)
		if err := h.repo.Accounts().SetVerificationCodeTx(ctx, tx, account.ID, h.hasher.Hash(code), expiresAt); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrAlreadyVerified
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification code")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize email verification")
	}

	if err := h.mailer.Send(ctx, account.Email, code); err != nil {
		h.logger.Error("verification code dispatch failed", "error", err, "account", account.ID.String())
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to dispatch verification code")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventVerificationCodeSent,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}
