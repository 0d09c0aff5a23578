package api

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/service"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/upstream"
	"github.com/99minutos/storefront-gateway/internal/upstreamtest"
)

type gateway struct {
	remote *upstreamtest.Server
	server *httptest.Server
}

func newGateway(t *testing.T, opts ...upstreamtest.Option) *gateway {
	t.Helper()
	remote := upstreamtest.New(opts...)
	t.Cleanup(remote.Close)
	remote.AddUser(domain.Vendor, "vera@example.com", "vendor-pw", "Vera")
	remote.AddUser(domain.Admin, "ada@example.com", "admin-pw", "Ada")

	log := zerolog.Nop()
	client := upstream.New(upstream.Config{BaseURL: remote.URL, Timeout: 5 * time.Second})
	e := NewRouter(Dependencies{
		Log:               log,
		Sessions:          service.NewSessionService(client, domain.DefaultTTLPolicy, nil, log),
		Renewer:           service.NewRegistry(client, time.Second, service.CoordinatorOptions{Log: log}),
		Monitor:           service.NewFailureMonitor(nil, log),
		Upstream:          client,
		Jar:               cookiestore.NewJar([]byte("gateway-test-secret-0123456789abcdef"), false),
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &gateway{remote: remote, server: srv}
}

// browser returns a client with its own cookie jar that does not follow redirects.
func browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (g *gateway) login(t *testing.T, b *http.Client, d domain.Domain, email, password string) map[string]any {
	t.Helper()
	body := `{"identifier":"` + email + `","secret":"` + password + `","rememberMe":true}`
	resp, err := b.Post(g.server.URL+d.Policy().APIPrefix+"/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", d, resp.StatusCode)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out
}

func (g *gateway) call(t *testing.T, b *http.Client, method, path, accept string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(method, g.server.URL+path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := b.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (g *gateway) cookies(b *http.Client, path string) map[string]string {
	u, _ := url.Parse(g.server.URL + path)
	out := map[string]string{}
	for _, ck := range b.Jar.Cookies(u) {
		out[ck.Name] = ck.Value
	}
	return out
}

func TestGateway_LoginThenProxiedCallWithoutRenewal(t *testing.T) {
	accounts := map[domain.Domain][2]string{
		domain.Vendor: {"vera@example.com", "vendor-pw"},
		domain.Admin:  {"ada@example.com", "admin-pw"},
	}
	for d, acct := range accounts {
		g := newGateway(t)
		b := browser(t)
		prefix := d.Policy().RoutePrefix

		body := g.login(t, b, d, acct[0], acct[1])
		if _, leaked := body["accessToken"]; leaked {
			t.Fatalf("%s: tokens must not be returned to the browser: %v", d, body)
		}
		if user, _ := body["user"].(map[string]any); user["email"] != acct[0] {
			t.Fatalf("%s: unexpected login body %v", d, body)
		}

		resp := g.call(t, b, http.MethodGet, prefix+"/api/orders", "application/json")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", d, resp.StatusCode)
		}
		if g.remote.RefreshCalls(d) != 0 {
			t.Fatalf("%s: a fresh session must not be renewed", d)
		}
		if g.remote.APICalls(d) != 1 {
			t.Fatalf("%s: expected one proxied call, got %d", d, g.remote.APICalls(d))
		}

		if resp := g.call(t, b, http.MethodGet, d.Policy().APIPrefix+"/session", ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected session lookup to succeed, got %d", d, resp.StatusCode)
		}
	}
}

func TestGateway_CookiesAreScopedPerDomain(t *testing.T) {
	g := newGateway(t)
	b := browser(t)
	g.login(t, b, domain.Vendor, "vera@example.com", "vendor-pw")

	if got := g.cookies(b, "/admin/api/users"); len(got) != 0 {
		t.Fatalf("vendor cookies must not be sent to admin paths: %v", got)
	}
	if got := g.cookies(b, "/vendor/api/orders"); got["vendorAuthToken"] == "" || got["vendorRefreshToken"] == "" {
		t.Fatalf("expected vendor cookies on vendor paths: %v", got)
	}

	resp := g.call(t, b, http.MethodGet, "/admin/api/users", "application/json")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("a vendor session must not open the admin api, got %d", resp.StatusCode)
	}
	if resp := g.call(t, b, http.MethodGet, "/vendor/api/orders", "application/json"); resp.StatusCode != http.StatusOK {
		t.Fatalf("the vendor session must survive an admin failure, got %d", resp.StatusCode)
	}
}

func TestGateway_AdminSessionLossRedirectsToAdminLogin(t *testing.T) {
	g := newGateway(t)
	b := browser(t)
	g.login(t, b, domain.Admin, "ada@example.com", "admin-pw")
	g.login(t, b, domain.Vendor, "vera@example.com", "vendor-pw")

	g.remote.ExpireAccess(domain.Admin)
	g.remote.RevokeRefresh(domain.Admin)

	resp := g.call(t, b, http.MethodGet, "/admin/api/users", "text/html")
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/admin/login" {
		t.Fatalf("expected 303 to /admin/login, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if got := g.cookies(b, "/admin/api/users"); len(got) != 0 {
		t.Fatalf("admin cookies must be cleared: %v", got)
	}
	if resp := g.call(t, b, http.MethodGet, "/vendor/api/orders", "application/json"); resp.StatusCode != http.StatusOK {
		t.Fatalf("the vendor session must be untouched, got %d", resp.StatusCode)
	}

	resp = g.call(t, b, http.MethodGet, "/admin/api/users", "application/json")
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusUnauthorized || body["redirect"] != "/admin/login" {
		t.Fatalf("expected 401 naming /admin/login, got %d %v", resp.StatusCode, body)
	}
}

func TestGateway_ConcurrentFailuresRenewOnce(t *testing.T) {
	g := newGateway(t, upstreamtest.WithRefreshDelay(50*time.Millisecond))
	b := browser(t)
	g.login(t, b, domain.Vendor, "vera@example.com", "vendor-pw")
	before := g.cookies(b, "/vendor/api")["vendorAuthToken"]

	g.remote.ExpireAccess(domain.Vendor)

	const n = 8
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, g.server.URL+"/vendor/api/orders", nil)
			resp, err := b.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		if code != http.StatusOK {
			t.Fatalf("expected every call to succeed after renewal, got %d", code)
		}
	}

	if got := g.remote.RefreshCalls(domain.Vendor); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if after := g.cookies(b, "/vendor/api")["vendorAuthToken"]; after == before || after == "" {
		t.Fatalf("the renewed session must be written back to the cookie")
	}
}

func TestGateway_Logout(t *testing.T) {
	g := newGateway(t)
	b := browser(t)

	if resp := g.call(t, b, http.MethodPost, "/vendor/auth/logout", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout without session: expected 204, got %d", resp.StatusCode)
	}
	if g.remote.LogoutCalls(domain.Vendor) != 0 {
		t.Fatalf("no remote logout expected without a session")
	}

	g.login(t, b, domain.Vendor, "vera@example.com", "vendor-pw")
	refresh := g.cookies(b, "/vendor")["vendorRefreshToken"]

	if resp := g.call(t, b, http.MethodPost, "/vendor/auth/logout", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if g.remote.RefreshValid(refresh) || g.remote.LogoutCalls(domain.Vendor) != 1 {
		t.Fatalf("the refresh token must be revoked")
	}
	if resp := g.call(t, b, http.MethodGet, "/vendor/auth/session", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected no session after logout, got %d", resp.StatusCode)
	}
}

func TestGateway_LoginErrors(t *testing.T) {
	g := newGateway(t)
	b := browser(t)

	resp, err := b.Post(g.server.URL+"/admin/auth/login", "application/json", strings.NewReader(`{"identifier":"nope"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusUnprocessableEntity || body.Fields["identifier"] == "" {
		t.Fatalf("expected 422 with field messages, got %d %+v", resp.StatusCode, body)
	}

	resp2, err := b.Post(g.server.URL+"/admin/auth/login", "application/json", strings.NewReader(`{"identifier":"ada@example.com","secret":"wrong"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", resp2.StatusCode)
	}
	if got := g.cookies(b, "/admin"); len(got) != 0 {
		t.Fatalf("no cookie may be set on a failed login: %v", got)
	}
}

func TestGateway_Readiness(t *testing.T) {
	g := newGateway(t)

	resp := g.call(t, browser(t), http.MethodGet, "/health/ready", "")
	var body struct {
		Status       string                       `json:"status"`
		Dependencies map[string]map[string]string `json:"dependencies"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Fatalf("expected ready, got %d %+v", resp.StatusCode, body)
	}
	if body.Dependencies["mongodb"]["status"] != "disabled" || body.Dependencies["upstream"]["status"] != "ok" {
		t.Fatalf("unexpected dependency report %+v", body.Dependencies)
	}
}
