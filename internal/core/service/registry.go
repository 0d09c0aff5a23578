package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

const defaultRenewalGrace = 30 * time.Second

// Registry hands out one Coordinator per session, keyed by domain and
// refresh credential, for processes that serve many client contexts at once.
// A resolved coordinator is kept for the grace window so requests still
// carrying the old credential reuse its outcome.
type Registry struct {
	api   Refresher
	opts  CoordinatorOptions
	grace time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*Coordinator
}

// NewRegistry returns an empty registry. opts.Hooks is ignored: callers
// persist the outcome into their own request-scoped store.
func NewRegistry(api Refresher, grace time.Duration, opts CoordinatorOptions) *Registry {
	if grace <= 0 {
		grace = defaultRenewalGrace
	}
	opts.Hooks = RenewalHooks{}
	if opts.LedgerTTL <= 0 {
		opts.LedgerTTL = grace
	}
	return &Registry{
		api:     api,
		opts:    opts,
		grace:   grace,
		now:     time.Now,
		entries: make(map[string]*Coordinator),
	}
}

// Renew routes stale to the coordinator of its session.
func (r *Registry) Renew(ctx context.Context, stale *domain.Session) (*domain.Session, error) {
	if stale == nil || stale.RefreshToken == "" {
		return nil, fmt.Errorf("renew: no refresh credential: %w", domain.ErrSessionExpired)
	}
	return r.coordinator(stale).Renew(ctx, stale)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) coordinator(s *domain.Session) *Coordinator {
	key := domain.Fingerprint(string(s.Domain), s.RefreshToken)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	c, ok := r.entries[key]
	if !ok {
		c = NewCoordinator(s.Domain, r.api, r.opts)
		c.now = r.now
		r.entries[key] = c
	}
	return c
}

func (r *Registry) sweepLocked() {
	cutoff := r.now().Add(-r.grace)
	for key, c := range r.entries {
		if at, idle := c.idleSince(); idle && at.Before(cutoff) {
			delete(r.entries, key)
		}
	}
}
