package accounts

import "time"

// Config carries every tunable the subsystem needs. It is built once by the
// host application and injected into the services at construction; nothing
// reads ambient global state.
type Config struct {
	// SigningKey is the HMAC secret used to sign session tokens.
	SigningKey string
	// CodeSecret keys the digest over one-time codes. Keep it distinct
	// from SigningKey so rotating one does not invalidate the other.
	CodeSecret string

	// TokenExpiration is the session token TTL in hours.
	TokenExpiration int
	Issuer          string
	Audience        []string

	// ContextKey doubles as the session cookie name and the router locals
	// key the middleware stores validated claims under.
	ContextKey string
	// TokenLookup is the ordered extractor spec, e.g.
	// "header:Authorization,cookie:session". Order defines precedence.
	TokenLookup string
	AuthScheme  string

	// CodeLength is the number of digits in a one-time code.
	CodeLength int
	// CodeExpiration bounds how long a stored code remains redeemable.
	CodeExpiration time.Duration

	PasswordMinLength int
}

const (
	DefaultTokenExpiration   = 8
	DefaultContextKey        = "session"
	DefaultAuthScheme        = "Bearer"
	DefaultCodeLength        = 6
	DefaultCodeExpiration    = 10 * time.Minute
	DefaultPasswordMinLength = 8
)

// WithDefaults fills zero values so a partially populated Config is usable.
func (c Config) WithDefaults() Config {
	if c.TokenExpiration <= 0 {
		c.TokenExpiration = DefaultTokenExpiration
	}

	if c.ContextKey == "" {
		c.ContextKey = DefaultContextKey
	}

	if c.TokenLookup == "" {
		c.TokenLookup = "header:Authorization,cookie:" + c.ContextKey
	}

	if c.AuthScheme == "" {
		c.AuthScheme = DefaultAuthScheme
	}

	if c.CodeLength <= 0 {
		c.CodeLength = DefaultCodeLength
	}

	if c.CodeExpiration <= 0 {
		c.CodeExpiration = DefaultCodeExpiration
	}

	if c.PasswordMinLength <= 0 {
		c.PasswordMinLength = DefaultPasswordMinLength
	}

	return c
}

// TokenTTL returns the session duration as a time.Duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenExpiration) * time.Hour
}
