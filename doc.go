// Package accounts provides the credential and session lifecycle for an
// application: signup, signin/signout, email verification codes,
// forgot-password codes, and authenticated password changes.
//
// Credentials:
//   - Passwords are stored as salted bcrypt hashes. One-time codes are
//     stored as keyed HMAC digests with an expiry, and redeemed with a
//     single conditional update so concurrent attempts cannot both succeed.
//
// Sessions:
//   - TokenService issues HMAC-signed JWTs with a fixed TTL. The jwtware
//     middleware resolves tokens from the Authorization header first, then
//     the session cookie, and exposes the validated claims through router
//     locals and the request context.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the command
//     handlers and the authenticator to describe signup, login, verification,
//     and password reset events. Sinks run best-effort (errors are logged) so
//     you can forward to a database or queue without blocking authentication.
package accounts
