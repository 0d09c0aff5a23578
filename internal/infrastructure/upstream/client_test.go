package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/"})
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

var creds = ports.Credentials{Identifier: "alice@example.com", Secret: "pw", RememberMe: true}

func TestClient_Login_UnwrapsEnvelope(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		respond(http.StatusOK, `{"success":true,"message":"ok","data":{"accessToken":"acc","refreshToken":"ref","user":{"id":"u-1","email":"alice@example.com","role":"vendor"}},"errors":null}`)(w, r)
	})

	res, err := c.Login(context.Background(), domain.Vendor, creds)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotPath != "/vendor/auth/login" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["identifier"] != "alice@example.com" || gotBody["secret"] != "pw" || gotBody["rememberMe"] != true {
		t.Fatalf("unexpected payload %+v", gotBody)
	}
	if res.AccessToken != "acc" || res.RefreshToken != "ref" || res.Principal.ID != "u-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Principal.Roles) != 1 || res.Principal.Roles[0] != "vendor" {
		t.Fatalf("expected role to be lifted into roles, got %v", res.Principal.Roles)
	}
}

func TestClient_Login_MissingAccessTokenIsExplicit(t *testing.T) {
	c := newServer(t, respond(http.StatusOK, `{"success":true,"data":{"refreshToken":"ref","user":{"id":"u-1"}}}`))

	res, err := c.Login(context.Background(), domain.Admin, creds)
	if res != nil {
		t.Fatalf("no result may be returned with a malformed envelope")
	}
	var ee *domain.EnvelopeError
	if !errors.As(err, &ee) || ee.Field != "data.accessToken" {
		t.Fatalf("expected EnvelopeError on data.accessToken, got %v", err)
	}
	if !errors.Is(err, domain.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestClient_Login_EnvelopeShapes(t *testing.T) {
	cases := map[string]struct {
		d      domain.Domain
		status int
		body   string
		want   error
		field  string
	}{
		"no data":             {domain.Customer, 200, `{"success":true}`, domain.ErrMalformedResponse, "data"},
		"no user":             {domain.Customer, 200, `{"success":true,"data":{"accessToken":"a"}}`, domain.ErrMalformedResponse, "data.user"},
		"vendor no refresh":   {domain.Vendor, 200, `{"success":true,"data":{"accessToken":"a","user":{"id":"u"}}}`, domain.ErrMalformedResponse, "data.refreshToken"},
		"not json":            {domain.Customer, 200, `<html>`, domain.ErrMalformedResponse, "envelope"},
		"success false":       {domain.Customer, 200, `{"success":false,"message":"nope"}`, domain.ErrInvalidCredentials, ""},
		"unauthorized":        {domain.Vendor, 401, `{"success":false}`, domain.ErrInvalidCredentials, ""},
		"forbidden":           {domain.Admin, 403, ``, domain.ErrInvalidCredentials, ""},
		"not found":           {domain.Admin, 404, `{"success":false}`, domain.ErrInvalidCredentials, ""},
		"server error":        {domain.Vendor, 503, ``, domain.ErrUpstream, ""},
		"unprocessable input": {domain.Vendor, 422, `{"success":false,"errors":{"identifier":"unknown account"}}`, domain.ErrValidation, ""},
	}
	for name, tc := range cases {
		c := newServer(t, respond(tc.status, tc.body))
		_, err := c.Login(context.Background(), tc.d, creds)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
		if tc.field != "" {
			var ee *domain.EnvelopeError
			if !errors.As(err, &ee) || ee.Field != tc.field {
				t.Fatalf("%s: expected missing %s, got %v", name, tc.field, err)
			}
		}
	}
}

func TestClient_Login_ValidationErrorList(t *testing.T) {
	c := newServer(t, respond(http.StatusBadRequest, `{"success":false,"errors":[{"field":"secret","message":"secret too short"}]}`))

	_, err := c.Login(context.Background(), domain.Customer, creds)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Fields["secret"] != "secret too short" {
		t.Fatalf("expected field message from envelope, got %v", err)
	}
}

func TestClient_Login_TransportFailureIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(Config{BaseURL: srv.URL})
	srv.Close()

	_, err := c.Login(context.Background(), domain.Vendor, creds)
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Status != 0 {
		t.Fatalf("expected transport UpstreamError, got %v", err)
	}
}

func TestClient_Refresh(t *testing.T) {
	cases := map[string]struct {
		status      int
		body        string
		wantAccess  string
		wantRefresh string
		wantErr     error
	}{
		"flat token":     {200, `{"token":"new"}`, "new", "", nil},
		"envelope":       {200, `{"success":true,"data":{"accessToken":"new","refreshToken":"rotated"}}`, "new", "rotated", nil},
		"rotated flat":   {200, `{"token":"new","refreshToken":"rotated"}`, "new", "rotated", nil},
		"missing token":  {200, `{"success":true}`, "", "", domain.ErrMalformedResponse},
		"rejected":       {401, ``, "", "", domain.ErrSessionExpired},
		"bad request":    {400, `{}`, "", "", domain.ErrSessionExpired},
		"forbidden":      {403, `{}`, "", "", domain.ErrSessionExpired},
		"upstream error": {502, ``, "", "", domain.ErrUpstream},
	}
	for name, tc := range cases {
		var gotToken string
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/admin/auth/refresh" {
				t.Errorf("%s: unexpected path %q", name, r.URL.Path)
			}
			var body refreshRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotToken = body.RefreshToken
			respond(tc.status, tc.body)(w, r)
		})

		res, err := c.Refresh(context.Background(), domain.Admin, "refresh-1")
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s: expected %v, got %v", name, tc.wantErr, err)
			}
			if tc.wantErr == domain.ErrUpstream && domain.EndsSession(err) {
				t.Fatalf("%s: upstream failures must not end the session", name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: refresh: %v", name, err)
		}
		if gotToken != "refresh-1" {
			t.Fatalf("%s: refresh token not sent, got %q", name, gotToken)
		}
		if res.AccessToken != tc.wantAccess || res.RefreshToken != tc.wantRefresh {
			t.Fatalf("%s: unexpected result %+v", name, res)
		}
	}
}

func TestClient_Logout(t *testing.T) {
	c := newServer(t, respond(http.StatusOK, `{"success":true}`))
	if err := c.Logout(context.Background(), domain.Vendor, "r"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	c = newServer(t, respond(http.StatusInternalServerError, ``))
	if err := c.Logout(context.Background(), domain.Vendor, "r"); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestClient_ForwardStripsGatewayHeaders(t *testing.T) {
	var got *http.Request
	var gotBody string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	})

	header := http.Header{}
	header.Set("Cookie", "vendorAuthToken=sealed")
	header.Set("Authorization", "Bearer smuggled")
	header.Set("Connection", "X-Hop")
	header.Set("X-Hop", "1")
	header.Set("X-Request-Id", "req-1")
	header.Set("Content-Type", "application/json")

	fr := ForwardRequest{
		Method:      http.MethodPost,
		Path:        "/vendor/api/orders",
		RawQuery:    "page=2",
		Header:      header,
		Body:        []byte(`{"sku":"A"}`),
		AccessToken: "upstream-access",
	}
	for i := 0; i < 2; i++ {
		resp, err := c.Forward(context.Background(), fr)
		if err != nil {
			t.Fatalf("forward #%d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("unexpected status %d", resp.StatusCode)
		}
		if gotBody != `{"sku":"A"}` {
			t.Fatalf("forward #%d: body not replayed, got %q", i, gotBody)
		}
	}

	if got.URL.Path != "/vendor/api/orders" || got.URL.RawQuery != "page=2" {
		t.Fatalf("unexpected target %s", got.URL)
	}
	if got.Header.Get("Authorization") != "Bearer upstream-access" {
		t.Fatalf("unexpected authorization %q", got.Header.Get("Authorization"))
	}
	if got.Header.Get("Cookie") != "" || got.Header.Get("X-Hop") != "" {
		t.Fatalf("gateway headers leaked upstream: %v", got.Header)
	}
	if got.Header.Get("X-Request-Id") != "req-1" {
		t.Fatalf("end-to-end headers must be kept")
	}
	if header.Get("Cookie") == "" {
		t.Fatalf("the caller's header must not be mutated")
	}
}
