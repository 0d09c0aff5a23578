// Package cookiestore keeps Vendor and Admin sessions in the server-trusted
// cookie jar of the browser: one sealed access cookie and one refresh
// cookie per domain, both HttpOnly and scoped to the domain's route prefix.
package cookiestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

// Jar builds request-scoped stores sharing one sealing secret.
type Jar struct {
	secret []byte
	secure bool
	now    func() time.Time
}

// NewJar returns a Jar. secure marks every cookie Secure and should be on
// in production.
func NewJar(secret []byte, secure bool) *Jar {
	return &Jar{secret: secret, secure: secure, now: time.Now}
}

// Store returns the cookie store of d for the request behind c. Only
// cookie domains are accepted.
func (j *Jar) Store(c echo.Context, d domain.Domain) (*Store, error) {
	if !d.UsesCookies() {
		return nil, fmt.Errorf("cookiestore: %w: %s keeps no cookies", domain.ErrUnknownDomain, d)
	}
	return &Store{jar: j, c: c, d: d, policy: d.Policy()}, nil
}

// Store is a ports.SessionStore over the cookies of one domain for one
// request. Reads made after a write in the same request see that write.
type Store struct {
	jar    *Jar
	c      echo.Context
	d      domain.Domain
	policy domain.Policy

	mu      sync.Mutex
	pending *domain.Session
	cleared bool
}

var _ ports.SessionStore = (*Store)(nil)

type sealClaims struct {
	Token     string           `json:"tok"`
	Principal domain.Principal `json:"principal"`
	Domain    domain.Domain    `json:"dom"`
	RefreshFP string           `json:"rfp"`
	jwt.RegisteredClaims
}

// Set installs s for ttl. A non-positive ttl keeps the session's own expiry.
func (s *Store) Set(_ context.Context, sess *domain.Session, ttl time.Duration) error {
	if !sess.Complete() {
		return errors.New("cookiestore: refusing to store an incomplete session")
	}
	if sess.Domain != s.d {
		return fmt.Errorf("cookiestore: %s session offered to the %s jar", sess.Domain, s.d)
	}
	now := s.jar.now()
	if ttl <= 0 {
		ttl = sess.Remaining(now)
	}
	if ttl <= 0 {
		return errors.New("cookiestore: session already expired")
	}

	sealed, err := s.seal(sess)
	if err != nil {
		return err
	}

	// Max-Age is whole seconds; zero would turn the pair into browser-session cookies.
	maxAge := int((ttl + time.Second - 1) / time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(s.policy.AccessCookie, sealed, maxAge, now.Add(ttl))
	s.write(s.policy.RefreshCookie, sess.RefreshToken, maxAge, now.Add(ttl))
	cp := *sess
	s.pending = &cp
	s.cleared = false
	return nil
}

// Get returns the session carried by the request cookies, or nil when any
// part is missing, expired, tampered with or sealed for another domain.
func (s *Store) Get(context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return nil, nil
	}
	if s.pending != nil {
		cp := *s.pending
		return &cp, nil
	}

	access, err := s.c.Cookie(s.policy.AccessCookie)
	if err != nil || access.Value == "" {
		return nil, nil
	}
	refresh, err := s.c.Cookie(s.policy.RefreshCookie)
	if err != nil || refresh.Value == "" {
		return nil, nil
	}

	claims, err := s.open(access.Value)
	if err != nil {
		return nil, nil
	}
	if claims.Domain != s.d || claims.RefreshFP != domain.Fingerprint(string(s.d), refresh.Value) {
		return nil, nil
	}

	sess := &domain.Session{
		Domain:       s.d,
		AccessToken:  claims.Token,
		RefreshToken: refresh.Value,
		ExpiresAt:    claims.ExpiresAt.Time,
		Principal:    claims.Principal,
	}
	if !sess.Complete() {
		return nil, nil
	}
	return sess, nil
}

// Clear expires both cookies. Repeated calls in one request write nothing more.
func (s *Store) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return nil
	}
	s.write(s.policy.AccessCookie, "", -1, time.Unix(0, 0))
	s.write(s.policy.RefreshCookie, "", -1, time.Unix(0, 0))
	s.pending = nil
	s.cleared = true
	return nil
}

func (s *Store) write(name, value string, maxAge int, expires time.Time) {
	s.c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     s.policy.RoutePrefix,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.jar.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Store) seal(sess *domain.Session) (string, error) {
	claims := sealClaims{
		Token:     sess.AccessToken,
		Principal: sess.Principal,
		Domain:    sess.Domain,
		RefreshFP: domain.Fingerprint(string(sess.Domain), sess.RefreshToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.Principal.ID,
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(s.jar.now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jar.secret)
	if err != nil {
		return "", fmt.Errorf("cookiestore: seal: %w", err)
	}
	return signed, nil
}

func (s *Store) open(value string) (*sealClaims, error) {
	claims := &sealClaims{}
	tkn, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (interface{}, error) {
		return s.jar.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.jar.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("cookiestore: open seal: %w", err)
	}
	return claims, nil
}
