package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
}

func (e VerifyEmailMessage) Type() string { return "account.verification_code.verify" }

// VerifyEmailHandler redeems a pending verification code. The flip to
// verified and the clearing of the code pair happen in one conditional
// update, so a code redeems exactly once even under concurrent attempts.
type VerifyEmailHandler struct {
	repo     RepositoryManager
	hasher   *CodeHasher
	activity ActivitySink
	logger   Logger
}

// NewVerifyEmailHandler creates a handler with sane defaults.
func NewVerifyEmailHandler(repo RepositoryManager, hasher *CodeHasher) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		repo:     repo,
		hasher:   hasher,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyEmailHandler) WithActivitySink(sink ActivitySink) *VerifyEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
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

		if account.VerificationCodeHash == nil {
			return ErrInvalidCode
		}

		if account.VerificationCodeExpired(time.Now()) {
			return ErrCodeExpired
		}

		if !h.hasher.Matches(event.Code, *account.VerificationCodeHash) {
			return ErrInvalidCode
		}

		// keyed on the digest we just matched; a concurrent redeem that
		// cleared it first makes this a no-op and we report InvalidCode
		if err := h.repo.Accounts().MarkVerifiedTx(ctx, tx, account.ID, *account.VerificationCodeHash); err != nil {
			if goerrors.IsNotFound(err) {
				return ErrInvalidCode
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark account verified")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify email")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return nil
}
