package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RegisterAccountMessage struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// OnResponse receives the created record before the handler returns.
	OnResponse func(account *Account)
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// RegisterAccountHandler creates an unverified account with a hashed
// password. A duplicate email fails without mutating the existing record.
type RegisterAccountHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

// NewRegisterAccountHandler creates a handler with sane defaults.
func NewRegisterAccountHandler(repo RepositoryManager) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit signup events.
func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		email := NormalizeEmail(event.Email)

		if _, err := h.repo.Accounts().GetByEmailTx(ctx, tx, email); err == nil {
			return ErrEmailTaken
		} else if !repository.IsRecordNotFound(err) && !goerrors.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}

		account.Email = email
		account.PasswordHash = hash

		if account, err = h.repo.Accounts().RegisterTx(ctx, tx, account); err != nil {
			// the unique index is the backstop for racing signups
			return goerrors.Wrap(err, ErrEmailTaken.Category, ErrEmailTaken.Message).
				WithTextCode(ErrEmailTaken.TextCode).
				WithCode(ErrEmailTaken.Code)
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventSignup,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
		Metadata:  map[string]any{"email": account.Email},
	})

	if event.OnResponse != nil {
		event.OnResponse(account)
	}

	return nil
}
