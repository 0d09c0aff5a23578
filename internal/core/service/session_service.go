package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/api/metrics"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

// LoginInput is the credential payload submitted by a surface.
type LoginInput struct {
	Identifier string `json:"identifier" validate:"required,email"`
	Secret     string `json:"secret" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// SessionService exchanges credentials for sessions and revokes them.
type SessionService struct {
	api      ports.AuthAPI
	audit    ports.AuditSink
	validate *validator.Validate
	ttl      domain.TTLPolicy
	log      zerolog.Logger
	now      func() time.Time
}

// NewSessionService wires the credential exchange. A nil audit sink
// discards events.
func NewSessionService(api ports.AuthAPI, ttl domain.TTLPolicy, audit ports.AuditSink, log zerolog.Logger) *SessionService {
	if audit == nil {
		audit = discardAudit{}
	}
	return &SessionService{
		api:      api,
		audit:    audit,
		validate: NewValidator(),
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
}

// Login validates in, exchanges it with the remote API and installs the
// resulting session into store. Nothing is written on failure.
func (s *SessionService) Login(ctx context.Context, store ports.SessionStore, d domain.Domain, in LoginInput) (*domain.Session, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("login: %w: %q", domain.ErrUnknownDomain, d)
	}
	if err := s.validate.Struct(in); err != nil {
		metrics.LoginsTotal.WithLabelValues(string(d), "validation").Inc()
		return nil, ToValidationError(err)
	}

	res, err := s.api.Login(ctx, d, ports.Credentials{
		Identifier: in.Identifier,
		Secret:     in.Secret,
		RememberMe: in.RememberMe,
	})
	if err == nil {
		err = checkLoginResult(d, res)
	}
	if err != nil {
		result := loginFailureLabel(err)
		metrics.LoginsTotal.WithLabelValues(string(d), result).Inc()
		s.audit.Record(domain.SessionEvent{Kind: domain.EventLoginFailed, Domain: d, At: s.now(), Detail: result})
		s.log.Warn().Err(err).Str("domain", string(d)).Str("op", "login").Msg("login failed")
		return nil, err
	}

	ttl := s.ttl.For(in.RememberMe)
	sess := &domain.Session{
		Domain:       d,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    s.now().Add(ttl).UTC(),
		Principal:    res.Principal,
	}
	if err := store.Set(ctx, sess, ttl); err != nil {
		metrics.LoginsTotal.WithLabelValues(string(d), "store_error").Inc()
		return nil, fmt.Errorf("login: persist session: %w", err)
	}

	metrics.LoginsTotal.WithLabelValues(string(d), "success").Inc()
	s.audit.Record(domain.SessionEvent{Kind: domain.EventLogin, Domain: d, PrincipalID: sess.Principal.ID, At: s.now()})
	s.log.Info().
		Str("domain", string(d)).
		Str("principal_id", sess.Principal.ID).
		Bool("remember_me", in.RememberMe).
		Msg("session installed")

	return sess, nil
}

// Logout revokes the refresh credential server-side, best effort, and then
// clears store unconditionally. It is a no-op on an empty store.
func (s *SessionService) Logout(ctx context.Context, store ports.SessionStore, d domain.Domain) error {
	sess, err := store.Get(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("domain", string(d)).Msg("logout: unreadable session, clearing")
	}

	if sess == nil {
		if err := store.Clear(ctx); err != nil {
			return fmt.Errorf("logout: clear session: %w", err)
		}
		metrics.LogoutsTotal.WithLabelValues(string(d), "noop").Inc()
		return nil
	}

	result := "revoked"
	if err := s.api.Logout(ctx, d, sess.RefreshToken); err != nil {
		result = "local_only"
		s.log.Warn().Err(err).Str("domain", string(d)).Str("principal_id", sess.Principal.ID).Msg("server-side revocation failed")
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: clear session: %w", err)
	}

	metrics.LogoutsTotal.WithLabelValues(string(d), result).Inc()
	s.audit.Record(domain.SessionEvent{Kind: domain.EventLogout, Domain: d, PrincipalID: sess.Principal.ID, At: s.now(), Detail: result})
	s.log.Info().Str("domain", string(d)).Str("principal_id", sess.Principal.ID).Msg("session revoked")
	return nil
}

// checkLoginResult refuses to install a session from an incomplete answer.
func checkLoginResult(d domain.Domain, res *ports.LoginResult) error {
	switch {
	case res == nil:
		return &domain.EnvelopeError{Op: "login", Field: "data"}
	case res.AccessToken == "":
		return &domain.EnvelopeError{Op: "login", Field: "data.accessToken"}
	case res.Principal.ID == "":
		return &domain.EnvelopeError{Op: "login", Field: "data.user.id"}
	case d.Policy().RequiresRefresh && res.RefreshToken == "":
		return &domain.EnvelopeError{Op: "login", Field: "data.refreshToken"}
	}
	return nil
}

func loginFailureLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "upstream_error"
	}
}

type discardAudit struct{}

func (discardAudit) Record(domain.SessionEvent) {}
