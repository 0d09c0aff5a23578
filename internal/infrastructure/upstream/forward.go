package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
)

// hopHeaders are never replayed to the remote API. Cookies belong to the
// gateway and the bearer is attached from the session.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Cookie",
	"Authorization",
	"Host",
	"Content-Length",
}

// ForwardRequest is a buffered inbound request to replay upstream.
type ForwardRequest struct {
	Method      string
	Path        string
	RawQuery    string
	Header      http.Header
	Body        []byte
	AccessToken string
}

// Forward replays fr against the remote API with fr.AccessToken as bearer.
// The caller owns the response body. Because the body is buffered, the same
// ForwardRequest may be forwarded again with a renewed token.
func (c *Client) Forward(ctx context.Context, fr ForwardRequest) (*http.Response, error) {
	target := c.base + "/" + strings.TrimLeft(fr.Path, "/")
	if fr.RawQuery != "" {
		target += "?" + fr.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, fr.Method, target, bytes.NewReader(fr.Body))
	if err != nil {
		return nil, fmt.Errorf("forward: build request: %w", err)
	}

	req.Header = fr.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	for _, h := range connectionHeaders(req.Header) {
		req.Header.Del(h)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	if fr.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+fr.AccessToken)
	}

	return c.do("forward", req)
}

// connectionHeaders lists the headers named by Connection, which are hop-by-hop too.
func connectionHeaders(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}
