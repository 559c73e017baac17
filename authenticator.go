package accounts

import (
	"context"
	"reflect"
)

// Auther implements Authenticator on top of an IdentityProvider and a
// TokenService. Login failures are reported to the caller as
// ErrInvalidCredentials regardless of cause.
type Auther struct {
	provider     IdentityProvider
	tokenService TokenService
	logger       Logger
	activitySink ActivitySink
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, cfg Config) *Auther {
	return &Auther{
		provider:     provider,
		tokenService: NewTokenService(cfg, defLogger{}),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService overrides the token service, mostly useful in tests.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

func (s *Auther) Login(ctx context.Context, identifier, password string) (string, error) {
	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata:  map[string]any{"identifier": identifier},
		})
		return "", ErrInvalidCredentials
	}

	if identity == nil || reflect.ValueOf(identity).IsZero() {
		s.logger.Error("Login identity is nil or zero value")
		recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Metadata:  map[string]any{"identifier": identifier},
		})
		return "", ErrInvalidCredentials
	}

	token, err := s.tokenService.Issue(identity)
	if err != nil {
		s.logger.Error("Login token issue error", "error", err)
		recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     s.actorFromIdentity(identity),
			AccountID: identity.ID(),
			Metadata:  map[string]any{"identifier": identifier, "error": err.Error()},
		})
		return "", err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     s.actorFromIdentity(identity),
		AccountID: identity.ID(),
		Metadata:  map[string]any{"identifier": identifier},
	})

	return token, nil
}

func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	identity, err := s.provider.FindIdentityByIdentifier(ctx, session.GetAccountID())
	if err != nil {
		s.logger.Error("IdentityFromSession find identity by identifier", "error", err)
		return nil, err
	}

	return identity, nil
}

func (s Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

func (s *Auther) actorFromIdentity(identity Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID(),
		Type: "account",
	}
}

var _ Authenticator = (*Auther)(nil)
