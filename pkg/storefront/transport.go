package storefront

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

type tokenKey struct{}

// withToken pins the bearer for one request, overriding the slot.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func pinnedToken(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey{}).(string)
	return tok, ok
}

// TokenSource reads the current access token. ok is false when no session
// is present.
type TokenSource func(ctx context.Context) (token string, ok bool)

// Transport attaches the customer bearer to every outgoing request. It
// reads the token at dispatch time, so a login or renewal is picked up by
// the next request. Requests go out unauthenticated when no session exists.
type Transport struct {
	Source TokenSource
	// Base is the underlying RoundTripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, ok := pinnedToken(req.Context())
	if !ok && t.Source != nil {
		tok, ok = t.Source(req.Context())
	}
	if !ok || tok == "" {
		return t.base().RoundTrip(req)
	}

	out := req.Clone(req.Context())
	(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}).SetAuthHeader(out)
	return t.base().RoundTrip(out)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
