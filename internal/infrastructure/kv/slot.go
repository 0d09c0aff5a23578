package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

// Slot is the client-local session store: one named key holding the whole
// session as a single value, so every Set and Clear is one atomic write.
type Slot struct {
	store  Store
	domain domain.Domain
	key    string
	now    func() time.Time
}

// NewSlot binds a slot for d over store. Cookie-jar domains are refused:
// their tokens must never become readable by page-level code.
func NewSlot(store Store, d domain.Domain) (*Slot, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("kv slot: %w: %q", domain.ErrUnknownDomain, d)
	}
	if d.UsesCookies() {
		return nil, fmt.Errorf("kv slot: %s sessions live in the cookie jar", d)
	}
	return &Slot{store: store, domain: d, key: d.Policy().LocalSlot, now: time.Now}, nil
}

// Key returns the slot name.
func (s *Slot) Key() string { return s.key }

func (s *Slot) Set(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	if sess == nil || sess.Domain != s.domain || !sess.Complete() {
		return fmt.Errorf("kv slot: refusing to store an incomplete %s session", s.domain)
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("kv slot: encode: %w", err)
	}
	return s.store.Set(ctx, s.key, string(raw), ttl)
}

// Get returns the stored session, or nil when the slot is empty, expired or
// holds anything but a complete session of this domain.
func (s *Slot) Get(ctx context.Context) (*domain.Session, error) {
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil || !ok {
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, nil
	}
	if sess.Domain != s.domain || !sess.Complete() || sess.Expired(s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Slot) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, s.key)
}

// AccessToken exposes the bearer credential to page-level code.
func (s *Slot) AccessToken(ctx context.Context) (string, bool) {
	sess, err := s.Get(ctx)
	if err != nil || sess == nil {
		return "", false
	}
	return sess.AccessToken, true
}
