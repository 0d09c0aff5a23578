package storefront

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/kv"
)

type (
	// Session is the authenticated state held in the customer slot.
	Session = domain.Session
	// Principal is the signed-in customer.
	Principal = domain.Principal
	// Navigator is the interactive surface redirected on session loss.
	Navigator = ports.Navigator
	// Store is the key-value medium behind the customer slot.
	Store = kv.Store
	// AuditSink receives session lifecycle events.
	AuditSink = ports.AuditSink
)

var (
	ErrValidation         = domain.ErrValidation
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	ErrUpstream           = domain.ErrUpstream
	ErrSessionExpired     = domain.ErrSessionExpired
	ErrUnauthenticated    = domain.ErrUnauthenticated
	ErrMalformedResponse  = domain.ErrMalformedResponse
)

// Config holds the settings of a Client.
type Config struct {
	// BaseURL is the remote API root.
	BaseURL string
	// Timeout bounds each remote call. Zero means ten seconds.
	Timeout time.Duration
	// TTL picks the session lifetime at login. Zero means one day, or
	// thirty days with rememberMe.
	TTL domain.TTLPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithStore keeps the customer slot in store instead of process memory.
func WithStore(store Store) Option {
	return func(c *Client) { c.store = store }
}

// WithNavigator sends the surface to /sign-in on session loss. Without
// one, session loss is only reported as an error.
func WithNavigator(nav Navigator) Option {
	return func(c *Client) { c.nav = nav }
}

// WithRenewBefore renews a JWT access token whose expiry falls within d
// before sending. Opaque tokens are only renewed after a 401.
func WithRenewBefore(d time.Duration) Option {
	return func(c *Client) { c.renewBefore = d }
}

// WithHTTPClient sets the client whose transport carries requests. Its
// Transport is wrapped, not replaced.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithLogger sets the logger. The default discards.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithAudit sends session lifecycle events to sink.
func WithAudit(sink AuditSink) Option {
	return func(c *Client) { c.audit = sink }
}
