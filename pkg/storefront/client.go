// Package storefront is the client used by Customer-facing page code. It
// keeps the customer session in a client-local slot, attaches it to
// outgoing requests and renews it once per burst of 401s.
//
//	c, _ := storefront.New(storefront.Config{BaseURL: apiURL}, storefront.WithNavigator(nav))
//	sess, err := c.Login(ctx, "carol@example.com", secret, false)
//	req, _ := c.NewRequest(ctx, http.MethodGet, "/api/orders", nil)
//	resp, err := c.DoAuthenticated(req)
package storefront

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/service"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/kv"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/upstream"
)

const defaultTimeout = 10 * time.Second

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	store       Store
	nav         Navigator
	renewBefore time.Duration
	base        *http.Client
	log         zerolog.Logger
	audit       AuditSink

	slot        *kv.Slot
	http        *http.Client
	sessions    *service.SessionService
	coordinator *service.Coordinator
	monitor     *service.FailureMonitor
}

// New wires a Client. The slot lives in process memory unless WithStore
// says otherwise.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("storefront: BaseURL is required")
	}
	c := &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = kv.NewMemory()
	}
	slot, err := kv.NewSlot(c.store, domain.Customer)
	if err != nil {
		return nil, fmt.Errorf("storefront: %w", err)
	}
	c.slot = slot

	if c.base == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.base = &http.Client{Timeout: timeout}
	}
	c.http = &http.Client{
		Transport:     &Transport{Source: c.slot.AccessToken, Base: c.base.Transport},
		Timeout:       c.base.Timeout,
		Jar:           c.base.Jar,
		CheckRedirect: c.base.CheckRedirect,
	}

	// Credential exchange goes out without a bearer.
	api := upstream.New(upstream.Config{BaseURL: c.baseURL, HTTPClient: c.base})
	c.sessions = service.NewSessionService(api, cfg.TTL, c.audit, c.log)
	c.monitor = service.NewFailureMonitor(c.audit, c.log)
	c.coordinator = service.NewCoordinator(domain.Customer, api, service.CoordinatorOptions{
		Audit: c.audit,
		Log:   c.log,
		Hooks: service.RenewalHooks{
			OnRenewed: func(ctx context.Context, s *domain.Session) error {
				return c.slot.Set(ctx, s, s.Remaining(time.Now()))
			},
			OnExpired: func(ctx context.Context, _ *domain.Session) {
				_ = c.monitor.Unauthorized(ctx, domain.Customer, c.slot, c.nav)
			},
		},
	})
	return c, nil
}

// Login exchanges the credentials and installs the customer session,
// replacing any previous one.
func (c *Client) Login(ctx context.Context, identifier, secret string, rememberMe bool) (*Session, error) {
	sess, err := c.sessions.Login(ctx, c.slot, domain.Customer, service.LoginInput{
		Identifier: identifier,
		Secret:     secret,
		RememberMe: rememberMe,
	})
	if err != nil {
		return nil, err
	}
	c.coordinator.Reset(sess)
	return sess, nil
}

// Logout revokes the session server-side, best effort, and clears the
// slot. Logging out without a session is a no-op.
func (c *Client) Logout(ctx context.Context) error {
	err := c.sessions.Logout(ctx, c.slot, domain.Customer)
	c.coordinator.Reset(nil)
	return err
}

// Session returns the current session, or nil when signed out.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	return c.slot.Get(ctx)
}

// HTTPClient returns a client that attaches the current bearer but never
// renews. Do and DoAuthenticated should be preferred.
func (c *Client) HTTPClient() *http.Client { return c.http }

// NewRequest builds a request for path on the remote API.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
}

// Do sends req with the customer bearer when a session exists, and without
// one otherwise. A 401 on an authenticated call renews the session once and
// retries with the new token; when renewal is impossible the session is
// cleared and an error wrapping ErrUnauthenticated or ErrSessionExpired is
// returned.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	sess, err := c.slot.Get(ctx)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		if sess, err = c.renewEarly(ctx, sess); err != nil {
			return nil, err
		}
	}

	var token string
	if sess != nil {
		token = sess.AccessToken
	}
	resp, err := c.send(req, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || sess == nil {
		return resp, nil
	}
	drain(resp)

	return c.recoverSession(ctx, req, body, sess)
}

// DoAuthenticated is Do for calls that need a session. Without one it fails
// with ErrUnauthenticated and sends nothing.
func (c *Client) DoAuthenticated(req *http.Request) (*http.Response, error) {
	sess, err := c.slot.Get(req.Context())
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("storefront: %w", domain.ErrUnauthenticated)
	}
	return c.Do(req)
}

func (c *Client) recoverSession(ctx context.Context, req *http.Request, body []byte, stale *domain.Session) (*http.Response, error) {
	if stale.RefreshToken == "" {
		return nil, c.monitor.Unauthorized(ctx, domain.Customer, c.slot, c.nav)
	}

	renewed, err := c.coordinator.Renew(ctx, stale)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, body, renewed.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, c.monitor.Unauthorized(ctx, domain.Customer, c.slot, c.nav)
	}
	return resp, nil
}

// renewEarly renews a JWT access token that expires within renewBefore.
// Outages keep the current token.
func (c *Client) renewEarly(ctx context.Context, sess *domain.Session) (*domain.Session, error) {
	if c.renewBefore <= 0 || sess.RefreshToken == "" {
		return sess, nil
	}
	exp, ok := tokenExpiry(sess.AccessToken)
	if !ok || time.Until(exp) > c.renewBefore {
		return sess, nil
	}

	renewed, err := c.coordinator.Renew(ctx, sess)
	switch {
	case err == nil:
		return renewed, nil
	case domain.EndsSession(err):
		return nil, err
	default:
		c.log.Warn().Err(err).Str("domain", string(domain.Customer)).Msg("proactive renewal failed, keeping current token")
		return sess, nil
	}
}

// send dispatches a copy of req with token pinned, so the retry of a
// renewed call never picks up a stale slot value.
func (c *Client) send(req *http.Request, body []byte, token string) (*http.Response, error) {
	out := req.Clone(withToken(req.Context(), token))
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		out.ContentLength = int64(len(body))
	}
	resp, err := c.http.Do(out)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &domain.UpstreamError{Op: "request", Err: err}
	}
	return resp, nil
}

// tokenExpiry reads exp from a JWT without verifying it. The token is only
// inspected, never trusted.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("storefront: read request body: %w", err)
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
