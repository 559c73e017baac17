package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-accounts/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteAuthenticator glues the Authenticator to HTTP routes: it sets and
// clears the session cookie and builds the protected route middleware.
type RouteAuthenticator struct {
	auth             Authenticator
	tokens           TokenService
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auther Authenticator, tokens TokenService, cfg Config) (*RouteAuthenticator, error) {
	cfg = cfg.WithDefaults()

	a := &RouteAuthenticator{
		cfg:            cfg,
		auth:           auther,
		tokens:         tokens,
		Logger:         defLogger{},
		cookieDuration: cfg.TokenTTL(),
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// ProtectedRoute guards a route group: the token is looked up per the
// configured TokenLookup (header before cookie), validated through the
// token service, and its claims are exposed both in router locals and in
// the request's standard context.
func (a *RouteAuthenticator) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = a.AuthErrorHandler
	}
	return jwtware.New(jwtware.Config{
		ErrorHandler:   errorHandler,
		TokenValidator: validatorAdapter{tokens: a.tokens},
		AuthScheme:     a.cfg.AuthScheme,
		ContextKey:     a.cfg.ContextKey,
		TokenLookup:    a.cfg.TokenLookup,
		ContextEnricher: func(c context.Context, claims jwtware.AuthClaims) context.Context {
			if ac, ok := claims.(AuthClaims); ok {
				return WithClaimsContext(c, ac)
			}
			return c
		},
	})
}

// Login exchanges credentials for a signed session token. The token is set
// as an HTTP-only session cookie and also returned so JSON clients can carry
// it as a bearer header instead.
func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) (string, error) {
	token, err := a.auth.Login(ctx.Context(), payload.GetIdentifier(), payload.GetPassword())
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return "", err
	}

	a.setCookieToken(ctx, token, a.cookieDuration)
	return token, nil
}

// Logout clears the session cookie. Tokens already handed out stay valid
// until their expiry; the cookie is the only server-managed artifact.
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	a.cookieDel(ctx, a.cfg.ContextKey)
}

// MakeClientRouteAuthErrorHandler builds the error handler used by protected
// routes. With optional set, validation failures let the request through
// without an identity instead of rejecting it.
func (a *RouteAuthenticator) MakeClientRouteAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized).
				WithTextCode(TextCodeUnauthenticated)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.ContextKey,
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized).
			WithTextCode(TextCodeUnauthenticated)
	}

	a.Logger.Info(
		"Authentication error",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	return c.Status(router.StatusUnauthorized).JSON(router.StatusUnauthorized, errorResponse(richErr))
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.Status(richErr.Code).JSON(richErr.Code, errorResponse(richErr))
	}
}

// validatorAdapter bridges the accounts TokenService to the middleware's
// validator interface; Go interfaces are not covariant on return types.
type validatorAdapter struct {
	tokens TokenService
}

func (v validatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := v.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

var _ HTTPAuthenticator = (*RouteAuthenticator)(nil)
