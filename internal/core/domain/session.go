package domain

import "time"

// Principal is the authenticated identity returned alongside the tokens.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Session is the authenticated state of one domain in one client context.
type Session struct {
	Domain       Domain    `json:"domain"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Principal    Principal `json:"user"`
}

// Complete reports whether every required field is populated. Stores treat
// an incomplete session as absent.
func (s *Session) Complete() bool {
	if s == nil || !s.Domain.Valid() {
		return false
	}
	if s.AccessToken == "" || s.Principal.ID == "" || s.ExpiresAt.IsZero() {
		return false
	}
	if s.Domain.Policy().RequiresRefresh && s.RefreshToken == "" {
		return false
	}
	return true
}

// Expired reports whether the session lifetime has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Remaining returns the lifetime left at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// WithAccessToken returns a copy carrying a renewed access token. An empty
// refresh keeps the current refresh token; backends that rotate pass the new one.
func (s Session) WithAccessToken(access, refresh string) Session {
	s.AccessToken = access
	if refresh != "" {
		s.RefreshToken = refresh
	}
	if s.Principal.Roles != nil {
		s.Principal.Roles = append([]string(nil), s.Principal.Roles...)
	}
	return s
}

// TTLPolicy picks the session lifetime at issuance.
type TTLPolicy struct {
	Default  time.Duration
	Remember time.Duration
}

// DefaultTTLPolicy is one day, or thirty days under "remember me".
var DefaultTTLPolicy = TTLPolicy{
	Default:  24 * time.Hour,
	Remember: 30 * 24 * time.Hour,
}

// For returns the lifetime for a login with the given rememberMe flag.
func (p TTLPolicy) For(rememberMe bool) time.Duration {
	if rememberMe {
		if p.Remember > 0 {
			return p.Remember
		}
		return DefaultTTLPolicy.Remember
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultTTLPolicy.Default
}
