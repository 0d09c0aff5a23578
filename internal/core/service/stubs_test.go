package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

type stubAuthAPI struct {
	loginFn   func(ctx context.Context, d domain.Domain, c ports.Credentials) (*ports.LoginResult, error)
	refreshFn func(ctx context.Context, d domain.Domain, refresh string) (*ports.RefreshResult, error)
	logoutFn  func(ctx context.Context, d domain.Domain, refresh string) error

	logins    atomic.Int32
	refreshes atomic.Int32
	logouts   atomic.Int32
}

func (s *stubAuthAPI) Login(ctx context.Context, d domain.Domain, c ports.Credentials) (*ports.LoginResult, error) {
	s.logins.Add(1)
	return s.loginFn(ctx, d, c)
}

func (s *stubAuthAPI) Refresh(ctx context.Context, d domain.Domain, refresh string) (*ports.RefreshResult, error) {
	s.refreshes.Add(1)
	return s.refreshFn(ctx, d, refresh)
}

func (s *stubAuthAPI) Logout(ctx context.Context, d domain.Domain, refresh string) error {
	s.logouts.Add(1)
	if s.logoutFn == nil {
		return nil
	}
	return s.logoutFn(ctx, d, refresh)
}

type stubStore struct {
	mu      sync.Mutex
	session *domain.Session
	ttl     time.Duration
	sets    int
	clears  int
	setErr  error
}

func (s *stubStore) Set(_ context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	c := *sess
	s.session = &c
	s.ttl = ttl
	s.sets++
	return nil
}

func (s *stubStore) Get(context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	c := *s.session
	return &c, nil
}

func (s *stubStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.clears++
	return nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (a *recordingAudit) Record(e domain.SessionEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAudit) kinds() []domain.SessionEventKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.SessionEventKind, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.Kind)
	}
	return out
}

type stubNavigator struct {
	path       string
	redirected []string
}

func (n *stubNavigator) CurrentPath() string { return n.path }

func (n *stubNavigator) Redirect(target string) { n.redirected = append(n.redirected, target) }

func testSession(d domain.Domain) *domain.Session {
	return &domain.Session{
		Domain:       d,
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour),
		Principal:    domain.Principal{ID: "u-1", Email: "alice@example.com"},
	}
}
