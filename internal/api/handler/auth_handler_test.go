package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
	"github.com/99minutos/storefront-gateway/internal/core/service"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
)

var testJar = cookiestore.NewJar([]byte("handler-test-secret"), false)

type stubSessionManager struct {
	loginFn  func(ctx context.Context, store ports.SessionStore, d domain.Domain, in service.LoginInput) (*domain.Session, error)
	logoutFn func(ctx context.Context, store ports.SessionStore, d domain.Domain) error
}

func (s *stubSessionManager) Login(ctx context.Context, store ports.SessionStore, d domain.Domain, in service.LoginInput) (*domain.Session, error) {
	return s.loginFn(ctx, store, d, in)
}

func (s *stubSessionManager) Logout(ctx context.Context, store ports.SessionStore, d domain.Domain) error {
	return s.logoutFn(ctx, store, d)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func fixedSession(d domain.Domain) *domain.Session {
	return &domain.Session{
		Domain:       d,
		AccessToken:  "acc-secret",
		RefreshToken: "ref-secret",
		ExpiresAt:    time.Now().Add(24 * time.Hour).UTC(),
		Principal:    domain.Principal{ID: "u-1", Email: "vera@example.com"},
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	e := newEcho()
	stub := &stubSessionManager{
		loginFn: func(ctx context.Context, store ports.SessionStore, d domain.Domain, in service.LoginInput) (*domain.Session, error) {
			if d != domain.Vendor || in.Identifier != "vera@example.com" || !in.RememberMe {
				t.Fatalf("unexpected args: %s %+v", d, in)
			}
			sess := fixedSession(d)
			return sess, store.Set(ctx, sess, 30*24*time.Hour)
		},
	}
	h := NewAuthHandler(domain.Vendor, stub, testJar)

	body := strings.NewReader(`{"identifier":"vera@example.com","secret":"pw","rememberMe":true}`)
	req := httptest.NewRequest(http.MethodPost, "/vendor/auth/login", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "acc-secret") || strings.Contains(rec.Body.String(), "ref-secret") {
		t.Fatalf("tokens must never appear in the body: %s", rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["id"] != "u-1" {
		t.Fatalf("unexpected user payload: %+v", resp)
	}

	names := map[string]bool{}
	for _, ck := range rec.Result().Cookies() {
		names[ck.Name] = true
	}
	if !names["vendorAuthToken"] || !names["vendorRefreshToken"] {
		t.Fatalf("expected vendor cookies, got %v", names)
	}
}

func TestAuthHandler_Login_ValidationBeforeService(t *testing.T) {
	e := newEcho()
	stub := &stubSessionManager{
		loginFn: func(context.Context, ports.SessionStore, domain.Domain, service.LoginInput) (*domain.Session, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	}
	h := NewAuthHandler(domain.Admin, stub, testJar)

	req := httptest.NewRequest(http.MethodPost, "/admin/auth/login", strings.NewReader(`{"identifier":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Login(c)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Fields["identifier"] == "" || ve.Fields["secret"] == "" {
		t.Fatalf("expected messages for identifier and secret, got %+v", ve.Fields)
	}
}

func TestAuthHandler_Login_InvalidPayload(t *testing.T) {
	e := newEcho()
	h := NewAuthHandler(domain.Vendor, &stubSessionManager{}, testJar)

	req := httptest.NewRequest(http.MethodPost, "/vendor/auth/login", strings.NewReader(`{`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var he *echo.HTTPError
	if err := h.Login(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestAuthHandler_Login_ServiceError(t *testing.T) {
	e := newEcho()
	stub := &stubSessionManager{
		loginFn: func(context.Context, ports.SessionStore, domain.Domain, service.LoginInput) (*domain.Session, error) {
			return nil, domain.ErrInvalidCredentials
		},
	}
	h := NewAuthHandler(domain.Vendor, stub, testJar)

	req := httptest.NewRequest(http.MethodPost, "/vendor/auth/login", strings.NewReader(`{"identifier":"vera@example.com","secret":"bad"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Login(c); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("no cookie may be set on failure")
	}
}

func TestAuthHandler_Logout_AlwaysNoContent(t *testing.T) {
	e := newEcho()
	calls := 0
	stub := &stubSessionManager{
		logoutFn: func(ctx context.Context, store ports.SessionStore, d domain.Domain) error {
			calls++
			return store.Clear(ctx)
		},
	}
	h := NewAuthHandler(domain.Admin, stub, testJar)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/admin/auth/logout", nil), rec)

	if err := h.Logout(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNoContent || calls != 1 {
		t.Fatalf("expected 204 after one logout, got %d (%d calls)", rec.Code, calls)
	}
}

func TestAuthHandler_Session(t *testing.T) {
	e := newEcho()
	h := NewAuthHandler(domain.Vendor, &stubSessionManager{}, testJar)

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/vendor/auth/session", nil), httptest.NewRecorder())
	if err := h.Session(c); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without cookies, got %v", err)
	}

	// Issue cookies in one request and present them in the next.
	issue := httptest.NewRecorder()
	ic := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), issue)
	store, _ := testJar.Store(ic, domain.Vendor)
	_ = store.Set(context.Background(), fixedSession(domain.Vendor), time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/vendor/auth/session", nil)
	for _, ck := range issue.Result().Cookies() {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	if err := h.Session(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"u-1"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
