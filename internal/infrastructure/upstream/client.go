// Package upstream is the HTTP client for the remote API: the per-domain
// login, refresh and logout endpoints, and the replay of proxied calls.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/99minutos/storefront-gateway/internal/api/metrics"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

const (
	defaultTimeout = 10 * time.Second
	maxEnvelope    = 1 << 20
)

// Config captures the settings for reaching the remote API.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client. Its Timeout is left alone.
	HTTPClient *http.Client
}

// Client implements ports.AuthAPI over HTTP.
type Client struct {
	base string
	http *http.Client
}

var _ ports.AuthAPI = (*Client)(nil)

// New returns a Client. A default timeout is applied when none is provided.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), http: hc}
}

// BaseURL returns the remote API root without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// envelope is the nested response shape of the remote API.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

type principalDoc struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

type loginData struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	User         *principalDoc `json:"user"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Login posts the credentials to the domain's login endpoint and unwraps
// the envelope. Missing fields are reported, never defaulted.
func (c *Client) Login(ctx context.Context, d domain.Domain, cr ports.Credentials) (*ports.LoginResult, error) {
	status, body, err := c.post(ctx, "login", d, "/login", loginRequest{
		Identifier: cr.Identifier,
		Secret:     cr.Secret,
		RememberMe: cr.RememberMe,
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	switch {
	case status >= 500:
		return nil, &domain.UpstreamError{Op: "login", Status: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("login: %w", domain.ErrInvalidCredentials)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return nil, validationFromEnvelope(env)
	case status >= 400:
		return nil, fmt.Errorf("login: status %d: %w", status, domain.ErrInvalidCredentials)
	}

	if decodeErr != nil {
		return nil, &domain.EnvelopeError{Op: "login", Field: "envelope"}
	}
	if env.Success != nil && !*env.Success {
		return nil, fmt.Errorf("login: %s: %w", env.Message, domain.ErrInvalidCredentials)
	}
	if isNull(env.Data) {
		return nil, &domain.EnvelopeError{Op: "login", Field: "data"}
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &domain.EnvelopeError{Op: "login", Field: "data"}
	}
	switch {
	case data.AccessToken == "":
		return nil, &domain.EnvelopeError{Op: "login", Field: "data.accessToken"}
	case data.User == nil:
		return nil, &domain.EnvelopeError{Op: "login", Field: "data.user"}
	case data.User.ID == "":
		return nil, &domain.EnvelopeError{Op: "login", Field: "data.user.id"}
	case d.Policy().RequiresRefresh && data.RefreshToken == "":
		return nil, &domain.EnvelopeError{Op: "login", Field: "data.refreshToken"}
	}

	roles := data.User.Roles
	if len(roles) == 0 && data.User.Role != "" {
		roles = []string{data.User.Role}
	}
	return &ports.LoginResult{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		Principal: domain.Principal{
			ID:    data.User.ID,
			Email: data.User.Email,
			Name:  data.User.Name,
			Roles: roles,
		},
	}, nil
}

// refreshResponse accepts both the flat {token} answer and the envelope.
type refreshResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	Data         *struct {
		Token        string `json:"token"`
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// Refresh exchanges refreshToken for a new access token. A rejected
// refresh credential yields ErrSessionExpired.
func (c *Client) Refresh(ctx context.Context, d domain.Domain, refreshToken string) (*ports.RefreshResult, error) {
	status, body, err := c.post(ctx, "refresh", d, "/refresh", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	switch {
	case status >= 500:
		return nil, &domain.UpstreamError{Op: "refresh", Status: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusBadRequest:
		return nil, fmt.Errorf("refresh: status %d: %w", status, domain.ErrSessionExpired)
	case status >= 400:
		return nil, &domain.UpstreamError{Op: "refresh", Status: status}
	}

	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.EnvelopeError{Op: "refresh", Field: "token"}
	}
	out := &ports.RefreshResult{
		AccessToken:  firstNonEmpty(resp.Token, resp.AccessToken),
		RefreshToken: resp.RefreshToken,
	}
	if resp.Data != nil {
		out.AccessToken = firstNonEmpty(out.AccessToken, resp.Data.AccessToken, resp.Data.Token)
		out.RefreshToken = firstNonEmpty(out.RefreshToken, resp.Data.RefreshToken)
	}
	if out.AccessToken == "" {
		return nil, &domain.EnvelopeError{Op: "refresh", Field: "token"}
	}
	return out, nil
}

// Logout asks the remote API to invalidate refreshToken.
func (c *Client) Logout(ctx context.Context, d domain.Domain, refreshToken string) error {
	status, _, err := c.post(ctx, "logout", d, "/logout", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	if status >= 300 {
		return &domain.UpstreamError{Op: "logout", Status: status}
	}
	return nil
}

func (c *Client) post(ctx context.Context, op string, d domain.Domain, suffix string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+d.Policy().APIPrefix+suffix, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(op, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelope))
	if err != nil {
		return 0, nil, &domain.UpstreamError{Op: op, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.UpstreamError{Op: op, Err: err}
	}
	metrics.UpstreamRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	return resp, nil
}

type fieldMessage struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validationFromEnvelope maps the envelope errors, as either an object of
// field messages or a list of {field, message}, onto a ValidationError.
func validationFromEnvelope(env envelope) error {
	fields := map[string]string{}
	if !isNull(env.Errors) {
		var byField map[string]string
		var list []fieldMessage
		if json.Unmarshal(env.Errors, &byField) == nil {
			for k, v := range byField {
				fields[k] = v
			}
		} else if json.Unmarshal(env.Errors, &list) == nil {
			for _, fm := range list {
				if fm.Field != "" {
					fields[fm.Field] = fm.Message
				}
			}
		}
	}
	if len(fields) == 0 {
		msg := env.Message
		if msg == "" {
			msg = "request rejected by the remote API"
		}
		fields["request"] = msg
	}
	return &domain.ValidationError{Fields: fields}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
