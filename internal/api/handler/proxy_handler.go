package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/api/middleware"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/upstream"
)

const (
	maxProxyBody = 10 << 20

	// statusClientClosedRequest answers requests whose browser went away.
	statusClientClosedRequest = 499
)

// Forwarder replays a buffered request against the remote API.
type Forwarder interface {
	Forward(ctx context.Context, fr upstream.ForwardRequest) (*http.Response, error)
}

// Renewer single-flights renewals across the requests of one session.
type Renewer interface {
	Renew(ctx context.Context, stale *domain.Session) (*domain.Session, error)
}

// SessionMonitor handles a session that can no longer be renewed.
type SessionMonitor interface {
	Unauthorized(ctx context.Context, origin domain.Domain, store ports.SessionStore, nav ports.Navigator) error
}

// ProxyHandler forwards authenticated calls of one cookie domain to the
// remote API, attaching the access token held in the session cookies.
type ProxyHandler struct {
	domain   domain.Domain
	upstream Forwarder
	renewer  Renewer
	monitor  SessionMonitor
	log      zerolog.Logger
}

func NewProxyHandler(d domain.Domain, fw Forwarder, renewer Renewer, monitor SessionMonitor, log zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{domain: d, upstream: fw, renewer: renewer, monitor: monitor, log: log}
}

// hopResponseHeaders are not relayed from upstream answers. Upstream
// cookies never reach the browser.
var hopResponseHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Trailer":           true,
	"Upgrade":           true,
	"Set-Cookie":        true,
	"Content-Length":    true,
}

// Forward proxies the request. A 401 from the remote API triggers one
// renewal and one retry with the renewed token; if renewal is refused the
// session is dropped.
//
// @Summary      Proxy an authenticated API call
// @Tags         proxy
// @Param        domain  path  string  true  "Session domain" Enums(vendor, admin)
// @Param        path    path  string  true  "Remote API path"
// @Success      200
// @Failure      303
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /{domain}/api/{path} [get]
func (h *ProxyHandler) Forward(c echo.Context) error {
	sess, store := middleware.SessionFrom(c)
	if sess == nil || store == nil {
		return middleware.RespondSessionLost(c, h.domain, "")
	}

	req := c.Request()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxProxyBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	if len(body) > maxProxyBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}

	fr := upstream.ForwardRequest{
		Method:      req.Method,
		Path:        req.URL.Path,
		RawQuery:    req.URL.RawQuery,
		Header:      req.Header,
		Body:        body,
		AccessToken: sess.AccessToken,
	}
	ctx := req.Context()

	resp, err := h.upstream.Forward(ctx, fr)
	if err != nil {
		return h.failed(c, err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return h.relay(c, resp)
	}
	drain(resp)

	renewed, err := h.renewer.Renew(ctx, sess)
	if err != nil {
		if !domain.EndsSession(err) {
			return h.failed(c, err)
		}
		return h.sessionLost(c, store)
	}
	if err := store.Set(ctx, renewed, 0); err != nil {
		h.log.Error().Err(err).Str("domain", string(h.domain)).Msg("persist renewed session")
	}

	fr.AccessToken = renewed.AccessToken
	resp, err = h.upstream.Forward(ctx, fr)
	if err != nil {
		return h.failed(c, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return h.sessionLost(c, store)
	}
	return h.relay(c, resp)
}

// failed hands err to the error handler unless the browser disconnected,
// in which case nobody is left to read an error body.
func (h *ProxyHandler) failed(c echo.Context, err error) error {
	if c.Request().Context().Err() == nil {
		return err
	}
	h.log.Debug().Err(err).Str("domain", string(h.domain)).Str("path", c.Request().URL.Path).Msg("client closed request")
	return c.NoContent(statusClientClosedRequest)
}

func (h *ProxyHandler) sessionLost(c echo.Context, store ports.SessionStore) error {
	nav := middleware.NewNavigator(c)
	err := h.monitor.Unauthorized(c.Request().Context(), h.domain, store, nav)
	if err != nil && !errors.Is(err, domain.ErrUnauthenticated) {
		return fmt.Errorf("session lost: %w", err)
	}
	return middleware.RespondSessionLost(c, h.domain, nav.Target())
}

func (h *ProxyHandler) relay(c echo.Context, resp *http.Response) error {
	defer resp.Body.Close()

	// Renewed session cookies may already be in the header; only add to it.
	header := c.Response().Header()
	for k, vv := range resp.Header {
		if hopResponseHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.log.Warn().Err(err).Str("domain", string(h.domain)).Msg("relay upstream body")
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
