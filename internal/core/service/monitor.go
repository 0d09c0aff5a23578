package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/api/metrics"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

// FailureMonitor reacts to authentication failures: it clears the local
// credential of the failing domain and sends interactive surfaces to the
// login entry of the domain they are on.
type FailureMonitor struct {
	audit ports.AuditSink
	log   zerolog.Logger
	now   func() time.Time
}

// NewFailureMonitor returns a monitor. A nil audit sink discards events.
func NewFailureMonitor(audit ports.AuditSink, log zerolog.Logger) *FailureMonitor {
	if audit == nil {
		audit = discardAudit{}
	}
	return &FailureMonitor{audit: audit, log: log, now: time.Now}
}

// Unauthorized handles a 401 received by a call made with origin's
// credential. store is origin's session store and may be nil. With a nil
// nav nothing is redirected and the returned error is the caller's to act on.
func (m *FailureMonitor) Unauthorized(ctx context.Context, origin domain.Domain, store ports.SessionStore, nav ports.Navigator) error {
	var principalID string
	if store != nil {
		if s, err := store.Get(ctx); err == nil && s != nil {
			principalID = s.Principal.ID
		}
		if err := store.Clear(ctx); err != nil {
			m.log.Error().Err(err).Str("domain", string(origin)).Msg("clear session after 401")
		}
	}

	m.audit.Record(domain.SessionEvent{Kind: domain.EventSessionLost, Domain: origin, PrincipalID: principalID, At: m.now()})
	lost := fmt.Errorf("%s session lost: %w", origin, domain.ErrUnauthenticated)

	// Background calls and calls whose surface went away get the error only.
	if nav == nil || ctx.Err() != nil {
		metrics.SessionRedirectsTotal.WithLabelValues(string(origin), "propagate").Inc()
		return lost
	}

	active := domain.FromPath(nav.CurrentPath())
	target := active.LoginPath()
	metrics.SessionRedirectsTotal.WithLabelValues(string(active), "redirect").Inc()
	m.log.Info().
		Str("domain", string(origin)).
		Str("active_domain", string(active)).
		Str("principal_id", principalID).
		Str("redirect", target).
		Msg("session lost, redirecting to login")
	nav.Redirect(target)

	return lost
}
