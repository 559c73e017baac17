package accounts_test

import (
	"context"
	"net/http"
	"testing"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type controllerFixture struct {
	repo       *memRepo
	hasher     *accounts.CodeHasher
	mailer     *captureMailer
	controller *accounts.AccountController
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	repo := newMemRepo()
	hasher := newTestHasher(t)
	mailer := &captureMailer{}
	cfg := testConfig()

	provider := accounts.NewAccountProvider(repo.accounts)
	auther := accounts.NewAuthenticator(provider, cfg)

	httpAuth, err := accounts.NewHTTPAuthenticator(auther, auther.TokenService(), cfg)
	require.NoError(t, err)

	controller := accounts.NewAccountController(
		accounts.WithControllerRepo(repo),
		accounts.WithControllerAuther(httpAuth),
		accounts.WithControllerHasher(hasher),
		accounts.WithControllerMailer(mailer),
		accounts.WithControllerConfig(cfg),
	)

	return &controllerFixture{
		repo:       repo,
		hasher:     hasher,
		mailer:     mailer,
		controller: controller,
	}
}

// jsonRecorder captures the last status and body written through the mock.
type jsonRecorder struct {
	status int
	body   router.ViewContext
}

func recordJSON(ctx *MockContext, rec *jsonRecorder) {
	ctx.On("Status", mock.Anything).Maybe()
	ctx.On("JSON", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		rec.status = args.Int(0)
		rec.body = args.Get(1).(router.ViewContext)
	}).Return(nil)
}

func (r *jsonRecorder) data(t *testing.T) router.ViewContext {
	t.Helper()
	data, ok := r.body["data"].(router.ViewContext)
	require.True(t, ok, "expected a data envelope, got %v", r.body)
	return data
}

func (r *jsonRecorder) errorBody(t *testing.T) router.ViewContext {
	t.Helper()
	errBody, ok := r.body["error"].(router.ViewContext)
	require.True(t, ok, "expected an error envelope, got %v", r.body)
	return errBody
}

func bindAs[T any](ctx *MockContext, payload T) {
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		target := args.Get(0).(*T)
		*target = payload
	}).Return(nil)
}

func authedContext(ctx *MockContext, accountID string) {
	ctx.On("Locals", accounts.DefaultContextKey).Return(&accounts.JWTClaims{UID: accountID})
}

func TestControllerSignUp(t *testing.T) {
	fix := newControllerFixture(t)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.SignUpRequest{Email: "user@example.com", Password: "secret-password"})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SignUp(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	data := rec.data(t)
	assert.Equal(t, "user@example.com", data["email"])
	assert.NotEmpty(t, data["id"])
}

func TestControllerSignUpValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload accounts.SignUpRequest
	}{
		{"missing email", accounts.SignUpRequest{Password: "secret-password"}},
		{"malformed email", accounts.SignUpRequest{Email: "not-an-email", Password: "secret-password"}},
		{"short password", accounts.SignUpRequest{Email: "user@example.com", Password: "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newControllerFixture(t)

			rec := &jsonRecorder{}
			ctx := new(MockContext)
			bindAs(ctx, tt.payload)
			recordJSON(ctx, rec)

			require.NoError(t, fix.controller.SignUp(ctx))

			assert.Equal(t, http.StatusBadRequest, rec.status)
			errBody := rec.errorBody(t)
			assert.Equal(t, accounts.TextCodeInvalidInput, errBody["text_code"])
			assert.NotEmpty(t, errBody["fields"], "validation errors should name the offending fields")
		})
	}
}

func TestControllerSignUpDuplicateEmail(t *testing.T) {
	fix := newControllerFixture(t)
	seedAccount(t, fix.repo, "user@example.com", "secret-password", false)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.SignUpRequest{Email: "user@example.com", Password: "another-password"})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SignUp(ctx))

	assert.Equal(t, http.StatusConflict, rec.status)
	assert.Equal(t, accounts.TextCodeEmailTaken, rec.errorBody(t)["text_code"])
}

func TestControllerSignIn(t *testing.T) {
	fix := newControllerFixture(t)
	seedAccount(t, fix.repo, "user@example.com", "secret-password", true)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	ctx.On("Cookie", mock.Anything)
	bindAs(ctx, accounts.SignInRequest{Email: "user@example.com", Password: "secret-password"})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SignIn(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.NotEmpty(t, rec.data(t)["token"])
	ctx.AssertCalled(t, "Cookie", mock.Anything)
}

func TestControllerSignInBadCredentials(t *testing.T) {
	fix := newControllerFixture(t)
	seedAccount(t, fix.repo, "user@example.com", "secret-password", true)

	tests := []struct {
		name    string
		payload accounts.SignInRequest
	}{
		{"wrong password", accounts.SignInRequest{Email: "user@example.com", Password: "wrong-password"}},
		{"unknown email", accounts.SignInRequest{Email: "nobody@example.com", Password: "secret-password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &jsonRecorder{}
			ctx := new(MockContext)
			ctx.On("Context").Return(context.Background())
			bindAs(ctx, tt.payload)
			recordJSON(ctx, rec)

			require.NoError(t, fix.controller.SignIn(ctx))

			// both causes produce the same response
			assert.Equal(t, http.StatusUnauthorized, rec.status)
			assert.Equal(t, accounts.TextCodeInvalidCredentials, rec.errorBody(t)["text_code"])
		})
	}
}

func TestControllerSignOut(t *testing.T) {
	fix := newControllerFixture(t)

	var cookie *router.Cookie
	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Cookie", mock.Anything).Run(func(args mock.Arguments) {
		cookie = args.Get(0).(*router.Cookie)
	})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SignOut(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["signed_out"])

	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
}

func TestControllerSendVerificationCode(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "secret-password", false)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	authedContext(ctx, account.ID.String())
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SendVerificationCode(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["sent"])
	assert.Equal(t, "user@example.com", fix.mailer.to)
}

func TestControllerSendVerificationCodeRequiresSession(t *testing.T) {
	fix := newControllerFixture(t)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Locals", accounts.DefaultContextKey).Return(nil)
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SendVerificationCode(ctx))

	assert.Equal(t, http.StatusUnauthorized, rec.status)
	assert.Equal(t, accounts.TextCodeUnauthenticated, rec.errorBody(t)["text_code"])
}

func TestControllerVerifyVerificationCode(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "secret-password", false)

	// request a code first so there is something to redeem
	sendCtx := new(MockContext)
	sendCtx.On("Context").Return(context.Background())
	authedContext(sendCtx, account.ID.String())
	recordJSON(sendCtx, &jsonRecorder{})
	require.NoError(t, fix.controller.SendVerificationCode(sendCtx))

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	authedContext(ctx, account.ID.String())
	bindAs(ctx, accounts.VerifyCodePayload{Code: fix.mailer.code})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.VerifyVerificationCode(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["verified"])
	assert.True(t, fix.repo.accounts.get(account.ID).EmailVerified)
}

func TestControllerVerifyVerificationCodeMalformedCode(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "secret-password", false)

	tests := []struct {
		name string
		code string
	}{
		{"too short", "123"},
		{"not digits", "abcdef"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &jsonRecorder{}
			ctx := new(MockContext)
			authedContext(ctx, account.ID.String())
			bindAs(ctx, accounts.VerifyCodePayload{Code: tt.code})
			recordJSON(ctx, rec)

			require.NoError(t, fix.controller.VerifyVerificationCode(ctx))

			assert.Equal(t, http.StatusBadRequest, rec.status)
			assert.Equal(t, accounts.TextCodeInvalidInput, rec.errorBody(t)["text_code"])
		})
	}
}

func TestControllerChangePassword(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "old-password", true)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	authedContext(ctx, account.ID.String())
	bindAs(ctx, accounts.ChangePasswordPayload{
		OldPassword: "old-password",
		NewPassword: "new-password",
	})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.ChangePassword(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["changed"])
	assert.NoError(t, accounts.ComparePasswordAndHash("new-password", fix.repo.accounts.get(account.ID).PasswordHash))
}

func TestControllerChangePasswordWrongOldPassword(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "old-password", true)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	authedContext(ctx, account.ID.String())
	bindAs(ctx, accounts.ChangePasswordPayload{
		OldPassword: "wrong-password",
		NewPassword: "new-password",
	})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.ChangePassword(ctx))

	assert.Equal(t, http.StatusUnauthorized, rec.status)
	assert.Equal(t, accounts.TextCodeInvalidCredentials, rec.errorBody(t)["text_code"])
}

func TestControllerSendForgotPasswordCode(t *testing.T) {
	fix := newControllerFixture(t)
	seedAccount(t, fix.repo, "user@example.com", "secret-password", true)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.ForgotPasswordRequestPayload{Email: "user@example.com"})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SendForgotPasswordCode(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["sent"])
	assert.NotEmpty(t, fix.mailer.code)
}

func TestControllerSendForgotPasswordCodeUnknownEmail(t *testing.T) {
	fix := newControllerFixture(t)

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.ForgotPasswordRequestPayload{Email: "nobody@example.com"})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.SendForgotPasswordCode(ctx))

	assert.Equal(t, http.StatusNotFound, rec.status)
	assert.Equal(t, accounts.TextCodeAccountNotFound, rec.errorBody(t)["text_code"])
}

func TestControllerVerifyForgotPasswordCode(t *testing.T) {
	fix := newControllerFixture(t)
	account := seedAccount(t, fix.repo, "user@example.com", "old-password", true)

	sendCtx := new(MockContext)
	sendCtx.On("Context").Return(context.Background())
	bindAs(sendCtx, accounts.ForgotPasswordRequestPayload{Email: "user@example.com"})
	recordJSON(sendCtx, &jsonRecorder{})
	require.NoError(t, fix.controller.SendForgotPasswordCode(sendCtx))

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.ForgotPasswordVerifyPayload{
		Email:       "user@example.com",
		Code:        fix.mailer.code,
		NewPassword: "new-password",
	})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.VerifyForgotPasswordCode(ctx))

	assert.Equal(t, router.StatusOK, rec.status)
	assert.Equal(t, true, rec.data(t)["reset"])
	assert.NoError(t, accounts.ComparePasswordAndHash("new-password", fix.repo.accounts.get(account.ID).PasswordHash))
}

func TestControllerVerifyForgotPasswordCodeWrongCode(t *testing.T) {
	fix := newControllerFixture(t)
	seedAccount(t, fix.repo, "user@example.com", "old-password", true)

	sendCtx := new(MockContext)
	sendCtx.On("Context").Return(context.Background())
	bindAs(sendCtx, accounts.ForgotPasswordRequestPayload{Email: "user@example.com"})
	recordJSON(sendCtx, &jsonRecorder{})
	require.NoError(t, fix.controller.SendForgotPasswordCode(sendCtx))

	wrong := "000000"
	if fix.mailer.code == wrong {
		wrong = "000001"
	}

	rec := &jsonRecorder{}
	ctx := new(MockContext)
	ctx.On("Context").Return(context.Background())
	bindAs(ctx, accounts.ForgotPasswordVerifyPayload{
		Email:       "user@example.com",
		Code:        wrong,
		NewPassword: "new-password",
	})
	recordJSON(ctx, rec)

	require.NoError(t, fix.controller.VerifyForgotPasswordCode(ctx))

	assert.Equal(t, http.StatusBadRequest, rec.status)
	assert.Equal(t, accounts.TextCodeInvalidCode, rec.errorBody(t)["text_code"])
}
