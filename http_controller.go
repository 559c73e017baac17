package accounts

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAccountRoutes mounts the account lifecycle endpoints on the given
// router. Routes that operate on the authenticated account are wrapped with
// the protected route middleware.
func RegisterAccountRoutes[T any](app router.Router[T], opts ...AccountControllerOption) {
	controller := NewAccountController(opts...)

	protected := controller.Auther.ProtectedRoute(nil)

	app.Post(controller.Routes.SignUp, controller.SignUp).
		SetName("auth.signup")

	app.Post(controller.Routes.SignIn, controller.SignIn).
		SetName("auth.signin")

	app.Post(controller.Routes.SignOut, protected(controller.SignOut)).
		SetName("auth.signout")

	app.Patch(controller.Routes.SendVerificationCode, protected(controller.SendVerificationCode)).
		SetName("auth.verification.send")

	app.Patch(controller.Routes.VerifyVerificationCode, protected(controller.VerifyVerificationCode)).
		SetName("auth.verification.verify")

	app.Patch(controller.Routes.ChangePassword, protected(controller.ChangePassword)).
		SetName("auth.password.change")

	app.Patch(controller.Routes.SendForgotPasswordCode, controller.SendForgotPasswordCode).
		SetName("auth.password.forgot.send")

	app.Patch(controller.Routes.VerifyForgotPasswordCode, controller.VerifyForgotPasswordCode).
		SetName("auth.password.forgot.verify")
}

type AccountControllerRoutes struct {
	SignUp                   string
	SignIn                   string
	SignOut                  string
	SendVerificationCode     string
	VerifyVerificationCode   string
	ChangePassword           string
	SendForgotPasswordCode   string
	VerifyForgotPasswordCode string
}

type AccountController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Hasher       *CodeHasher
	Mailer       CodeMailer
	Config       Config
	Routes       *AccountControllerRoutes
	Auther       HTTPAuthenticator
	Activity     ActivitySink
	ErrorHandler func(router.Context, error) error
}

type AccountControllerOption func(*AccountController) *AccountController

func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger:   defLogger{},
		Activity: noopActivitySink{},
		Routes: &AccountControllerRoutes{
			SignUp:                   "/auth/signup",
			SignIn:                   "/auth/signin",
			SignOut:                  "/auth/signout",
			SendVerificationCode:     "/auth/send-verification-code",
			VerifyVerificationCode:   "/auth/verify-verification-code",
			ChangePassword:           "/auth/change-password",
			SendForgotPasswordCode:   "/auth/send-forgot-password-code",
			VerifyForgotPasswordCode: "/auth/verify-forgot-password-code",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	c.Config = c.Config.WithDefaults()

	if c.Repo == nil {
		panic("Missing RepositoryManager in account controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in account controller...")
	}

	if c.Hasher == nil {
		panic("Missing CodeHasher in account controller...")
	}

	if c.Mailer == nil {
		c.Mailer = NewLogMailer(c.Logger)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.handleError
	}

	return c
}

func WithControllerRepo(repo RepositoryManager) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther HTTPAuthenticator) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Auther = auther
		return c
	}
}

func WithControllerHasher(hasher *CodeHasher) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Hasher = hasher
		return c
	}
}

func WithControllerMailer(mailer CodeMailer) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Mailer = mailer
		return c
	}
}

func WithControllerConfig(cfg Config) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Config = cfg
		return c
	}
}

func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) AccountControllerOption {
	return func(c *AccountController) *AccountController {
		c.Activity = normalizeActivitySink(sink)
		return c
	}
}

// SignUpRequest payload
type SignUpRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r SignUpRequest) Validate(minPasswordLength int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, 100)),
	)
}

func (a *AccountController) SignUp(ctx router.Context) error {
	payload := new(SignUpRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(a.Config.PasswordMinLength); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid signup payload"))
	}

	if a.Debug {
		fmt.Println("======= ACCOUNT SIGNUP ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=============================")
	}

	var account *Account
	req := RegisterAccountMessage{
		Email:    payload.Email,
		Password: payload.Password,
		OnResponse: func(record *Account) {
			account = record
		},
	}

	register := NewRegisterAccountHandler(a.Repo).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	if err := register.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("signup error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"id":    account.ID.String(),
			"email": account.Email,
		},
	})
}

// SignInRequest payload
type SignInRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// GetIdentifier returns the identifier
func (r SignInRequest) GetIdentifier() string {
	return r.Email
}

// GetPassword will return the password
func (r SignInRequest) GetPassword() string {
	return r.Password
}

// Validate will run validation rules
func (r SignInRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AccountController) SignIn(ctx router.Context) error {
	payload := new(SignInRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid signin payload"))
	}

	token, err := a.Auther.Login(ctx, payload)
	if err != nil {
		// a bad identifier and a bad password are indistinguishable here
		return a.ErrorHandler(ctx, ErrInvalidCredentials)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"token": token,
		},
	})
}

func (a *AccountController) SignOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"signed_out": true,
		},
	})
}

func (a *AccountController) SendVerificationCode(ctx router.Context) error {
	accountID, err := AccountIDFromRouter(ctx, a.Config.ContextKey)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	send := NewSendVerificationCodeHandler(a.Repo, a.Hasher, a.Mailer, a.Config).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	if err := send.Execute(ctx.Context(), SendVerificationCodeMessage{AccountID: accountID}); err != nil {
		a.Logger.Error("send verification code error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"sent": true,
		},
	})
}

// VerifyCodePayload carries a previously mailed one-time code.
type VerifyCodePayload struct {
	Code string `form:"code" json:"code"`
}

// Validate will run validation rules
func (r VerifyCodePayload) Validate(codeLength int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, is.Digit, validation.Length(codeLength, codeLength)),
	)
}

func (a *AccountController) VerifyVerificationCode(ctx router.Context) error {
	accountID, err := AccountIDFromRouter(ctx, a.Config.ContextKey)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(VerifyCodePayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(a.Config.CodeLength); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid verification payload"))
	}

	verify := NewVerifyEmailHandler(a.Repo, a.Hasher).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	msg := VerifyEmailMessage{AccountID: accountID, Code: payload.Code}
	if err := verify.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("verify email error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"verified": true,
		},
	})
}

// ChangePasswordPayload holds values for an authenticated password change
type ChangePasswordPayload struct {
	OldPassword string `form:"old_password" json:"old_password"`
	NewPassword string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r ChangePasswordPayload) Validate(minPasswordLength int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, 100)),
	)
}

func (a *AccountController) ChangePassword(ctx router.Context) error {
	accountID, err := AccountIDFromRouter(ctx, a.Config.ContextKey)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ChangePasswordPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(a.Config.PasswordMinLength); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid change password payload"))
	}

	change := NewChangePasswordHandler(a.Repo).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	msg := ChangePasswordMessage{
		AccountID:   accountID,
		OldPassword: payload.OldPassword,
		NewPassword: payload.NewPassword,
	}

	if err := change.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("change password error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"changed": true,
		},
	})
}

// ForgotPasswordRequestPayload starts the forgot password flow
type ForgotPasswordRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will run validation rules
func (r ForgotPasswordRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AccountController) SendForgotPasswordCode(ctx router.Context) error {
	payload := new(ForgotPasswordRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid forgot password payload"))
	}

	initReset := NewInitializePasswordResetHandler(a.Repo, a.Hasher, a.Mailer, a.Config).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	if err := initReset.Execute(ctx.Context(), InitializePasswordResetMessage{Email: payload.Email}); err != nil {
		a.Logger.Error("send forgot password code error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"sent": true,
		},
	})
}

// ForgotPasswordVerifyPayload redeems a reset code for a new password
type ForgotPasswordVerifyPayload struct {
	Email       string `form:"email" json:"email"`
	Code        string `form:"code" json:"code"`
	NewPassword string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r ForgotPasswordVerifyPayload) Validate(codeLength, minPasswordLength int) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, is.Digit, validation.Length(codeLength, codeLength)),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, 100)),
	)
}

func (a *AccountController) VerifyForgotPasswordCode(ctx router.Context) error {
	payload := new(ForgotPasswordVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "failed to parse request body"))
	}

	if err := payload.Validate(a.Config.CodeLength, a.Config.PasswordMinLength); err != nil {
		return a.ErrorHandler(ctx, invalidInput(err, "invalid reset payload"))
	}

	finalize := NewFinalizePasswordResetHandler(a.Repo, a.Hasher).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	msg := FinalizePasswordResetMessage{
		Email:       payload.Email,
		Code:        payload.Code,
		NewPassword: payload.NewPassword,
	}

	if err := finalize.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("verify forgot password code error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"data": router.ViewContext{
			"reset": true,
		},
	})
}

// handleError maps domain errors onto JSON responses. Infrastructure errors
// collapse to a generic 500 so internals never leak.
func (a *AccountController) handleError(ctx router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = router.StatusInternalServerError
	}

	if status == router.StatusInternalServerError {
		// keep the original chain in the log, not in the response
		a.Logger.Error("internal error", "error", err)
		return ctx.Status(status).JSON(status, router.ViewContext{
			"error": router.ViewContext{
				"text_code": "INTERNAL_ERROR",
				"message":   "An unexpected server error occurred",
			},
		})
	}

	return ctx.Status(status).JSON(status, errorResponse(richErr))
}

func errorResponse(richErr *goerrors.Error) router.ViewContext {
	body := router.ViewContext{
		"text_code": richErr.TextCode,
		"message":   richErr.Message,
	}

	if fields := FormatValidationErrorToMap(richErr); len(fields) > 0 {
		body["fields"] = fields
	}

	return router.ViewContext{"error": body}
}

// invalidInput wraps payload parse and validation failures, keeping the
// per-field breakdown in the error metadata.
func invalidInput(err error, msg string) *goerrors.Error {
	richErr := goerrors.Wrap(err, ErrInvalidInput.Category, msg).
		WithTextCode(ErrInvalidInput.TextCode).
		WithCode(ErrInvalidInput.Code)

	if fields := validationErrorFields(err); len(fields) > 0 {
		richErr = richErr.WithMetadata(map[string]any{"fields": fields})
	}

	return richErr
}

// FormatValidationErrorToMap extracts per-field validation messages from a
// rich error's metadata.
func FormatValidationErrorToMap(richErr *goerrors.Error) map[string]string {
	if richErr == nil || richErr.Metadata == nil {
		return nil
	}

	raw, ok := richErr.Metadata["fields"]
	if !ok {
		return nil
	}

	fields, ok := raw.(map[string]string)
	if !ok {
		return nil
	}

	return fields
}

func validationErrorFields(err error) map[string]string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil
	}

	fields := make(map[string]string, len(verrs))
	for name, ferr := range verrs {
		if ferr != nil {
			fields[name] = ferr.Error()
		}
	}

	return fields
}
