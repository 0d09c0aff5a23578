package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/api/metrics"
	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

// RenewalState is the position of a Coordinator in its state machine.
type RenewalState int

const (
	// StateValid: the access credential was accepted by the last call that used it.
	StateValid RenewalState = iota
	// StateRenewing: a refresh call is in flight; other failures queue behind it.
	StateRenewing
	// StateRenewed: the refresh succeeded and the queue is being released.
	StateRenewed
	// StateFailed: the refresh credential was rejected. Terminal until Reset.
	StateFailed
)

func (s RenewalState) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRenewing:
		return "renewing"
	case StateRenewed:
		return "renewed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Refresher is the slice of ports.AuthAPI the coordinator needs.
type Refresher interface {
	Refresh(ctx context.Context, d domain.Domain, refreshToken string) (*ports.RefreshResult, error)
}

// RenewalHooks let the owner of a session react to the outcome of a renewal.
// Both run outside the coordinator lock, before queued calls are released.
type RenewalHooks struct {
	// OnRenewed persists the renewed session.
	OnRenewed func(ctx context.Context, s *domain.Session) error
	// OnExpired clears the session and hands over to the failure monitor.
	OnExpired func(ctx context.Context, stale *domain.Session)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Ledger    ports.RenewalLedger
	LedgerTTL time.Duration
	Hooks     RenewalHooks
	Audit     ports.AuditSink
	Log       zerolog.Logger
}

type renewalOutcome struct {
	session *domain.Session
	err     error
}

// Coordinator single-flights renewals for one session. Calls that fail with
// 401 while a renewal is in flight wait in the pending queue and all receive
// the single outcome.
type Coordinator struct {
	domain domain.Domain
	api    Refresher
	opts   CoordinatorOptions
	now    func() time.Time

	mu         sync.Mutex
	state      RenewalState
	generation uint64
	current    *domain.Session
	pending    []chan renewalOutcome
	resolvedAt time.Time
}

// NewCoordinator returns a coordinator in StateValid.
func NewCoordinator(d domain.Domain, api Refresher, opts CoordinatorOptions) *Coordinator {
	if opts.Audit == nil {
		opts.Audit = discardAudit{}
	}
	if opts.LedgerTTL <= 0 {
		opts.LedgerTTL = 30 * time.Second
	}
	return &Coordinator{domain: d, api: api, opts: opts, now: time.Now}
}

// State returns the current state.
func (c *Coordinator) State() RenewalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset installs a freshly issued session and returns the coordinator to
// StateValid. An in-flight renewal started for an older session is not
// allowed to overwrite it.
func (c *Coordinator) Reset(s *domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.current = cloneSession(s)
	if c.state == StateFailed {
		c.state = StateValid
	}
}

// Renew exchanges the refresh credential of stale for a new access
// credential, or joins the renewal already in flight.
func (c *Coordinator) Renew(ctx context.Context, stale *domain.Session) (*domain.Session, error) {
	c.mu.Lock()
	switch c.state {
	case StateFailed:
		c.mu.Unlock()
		return nil, fmt.Errorf("renew %s: %w", c.domain, domain.ErrSessionExpired)

	case StateRenewing, StateRenewed:
		ch := make(chan renewalOutcome, 1)
		c.pending = append(c.pending, ch)
		c.mu.Unlock()
		metrics.RenewalWaitersTotal.WithLabelValues(string(c.domain)).Inc()
		return c.wait(ctx, ch)
	}

	// A 401 for a credential older than the one already held raced a finished
	// renewal: reuse the result instead of spending the refresh token again.
	if c.current != nil && stale != nil && c.current.AccessToken != stale.AccessToken {
		s := cloneSession(c.current)
		c.mu.Unlock()
		return s, nil
	}

	c.state = StateRenewing
	gen := c.generation
	c.mu.Unlock()

	// The flight outlives the caller that started it: others are queued on it.
	flightCtx := context.WithoutCancel(ctx)

	renewed, err := c.exchange(flightCtx, stale)
	switch {
	case err == nil:
		c.succeed(flightCtx, gen, renewed)
		return cloneSession(renewed), nil
	case errors.Is(err, domain.ErrSessionExpired):
		c.fail(flightCtx, gen, stale, err)
		return nil, fmt.Errorf("renew %s: %w", c.domain, err)
	default:
		c.release(StateValid, renewalOutcome{err: err})
		metrics.RenewalsTotal.WithLabelValues(string(c.domain), "upstream_error").Inc()
		c.opts.Log.Warn().Err(err).Str("domain", string(c.domain)).Msg("renewal failed transiently, session kept")
		return nil, err
	}
}

func (c *Coordinator) wait(ctx context.Context, ch <-chan renewalOutcome) (*domain.Session, error) {
	select {
	case out := <-ch:
		return cloneSession(out.session), out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) exchange(ctx context.Context, stale *domain.Session) (*domain.Session, error) {
	if stale == nil || stale.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh credential: %w", domain.ErrSessionExpired)
	}

	if c.opts.Ledger != nil {
		res, ok, err := c.opts.Ledger.Lookup(ctx, c.domain, stale.AccessToken)
		if err != nil {
			c.opts.Log.Warn().Err(err).Str("domain", string(c.domain)).Msg("renewal ledger lookup failed, refreshing anyway")
		} else if ok {
			metrics.RenewalsTotal.WithLabelValues(string(c.domain), "ledger_hit").Inc()
			s := stale.WithAccessToken(res.AccessToken, res.RefreshToken)
			return &s, nil
		}
	}

	res, err := c.api.Refresh(ctx, c.domain, stale.RefreshToken)
	if err != nil {
		return nil, err
	}
	if res == nil || res.AccessToken == "" {
		return nil, &domain.EnvelopeError{Op: "refresh", Field: "token"}
	}

	if c.opts.Ledger != nil {
		if err := c.opts.Ledger.Record(ctx, c.domain, stale.AccessToken, res, c.opts.LedgerTTL); err != nil {
			c.opts.Log.Warn().Err(err).Str("domain", string(c.domain)).Msg("renewal ledger record failed")
		}
	}
	metrics.RenewalsTotal.WithLabelValues(string(c.domain), "success").Inc()

	s := stale.WithAccessToken(res.AccessToken, res.RefreshToken)
	return &s, nil
}

func (c *Coordinator) succeed(ctx context.Context, gen uint64, renewed *domain.Session) {
	c.mu.Lock()
	c.state = StateRenewed
	stale := gen != c.generation
	if !stale {
		c.current = cloneSession(renewed)
	}
	c.mu.Unlock()

	if !stale && c.opts.Hooks.OnRenewed != nil {
		if err := c.opts.Hooks.OnRenewed(ctx, cloneSession(renewed)); err != nil {
			c.opts.Log.Error().Err(err).Str("domain", string(c.domain)).Msg("persist renewed session")
		}
	}
	c.opts.Audit.Record(domain.SessionEvent{Kind: domain.EventRenewed, Domain: c.domain, PrincipalID: renewed.Principal.ID, At: c.now()})

	c.release(StateValid, renewalOutcome{session: renewed})
}

func (c *Coordinator) fail(ctx context.Context, gen uint64, stale *domain.Session, cause error) {
	c.mu.Lock()
	superseded := gen != c.generation
	if superseded {
		c.state = StateValid
	} else {
		c.state = StateFailed
		c.current = nil
	}
	c.mu.Unlock()

	metrics.RenewalsTotal.WithLabelValues(string(c.domain), "expired").Inc()

	var principalID string
	if stale != nil {
		principalID = stale.Principal.ID
	}
	c.opts.Log.Info().Err(cause).Str("domain", string(c.domain)).Str("principal_id", principalID).Msg("refresh rejected, session ended")
	c.opts.Audit.Record(domain.SessionEvent{Kind: domain.EventRenewalFailed, Domain: c.domain, PrincipalID: principalID, At: c.now()})

	if !superseded && c.opts.Hooks.OnExpired != nil {
		c.opts.Hooks.OnExpired(ctx, cloneSession(stale))
	}

	out := renewalOutcome{err: fmt.Errorf("renew %s: %w", c.domain, domain.ErrSessionExpired)}
	if superseded {
		c.release(StateValid, out)
		return
	}
	c.release(StateFailed, out)
}

// release moves to next and hands out to every queued call.
func (c *Coordinator) release(next RenewalState, out renewalOutcome) {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.state = next
	c.resolvedAt = c.now()
	c.mu.Unlock()

	for _, ch := range queued {
		ch <- out
	}
}

// idleSince reports when the coordinator last resolved, and false while a
// renewal is in flight or none has happened yet.
func (c *Coordinator) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRenewing || c.state == StateRenewed || c.resolvedAt.IsZero() {
		return time.Time{}, false
	}
	return c.resolvedAt, true
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := s.WithAccessToken(s.AccessToken, "")
	return &c
}
