package domain

import (
	"fmt"
	"strings"
)

// Domain identifies one of the independent session domains. Domains never
// share storage, cookie names or tokens.
type Domain string

const (
	Customer Domain = "customer"
	Vendor   Domain = "vendor"
	Admin    Domain = "admin"
)

// All lists every domain in a stable order.
var All = []Domain{Customer, Vendor, Admin}

// Policy holds the per-domain naming and routing rules.
type Policy struct {
	// RoutePrefix scopes cookies and selects the domain from the current route.
	RoutePrefix string
	// LoginPath is the re-authentication entry point used on session loss.
	LoginPath string
	// APIPrefix is prepended to /login, /refresh and /logout on the remote API.
	APIPrefix string
	// AccessCookie and RefreshCookie are empty for domains stored client-locally.
	AccessCookie  string
	RefreshCookie string
	// LocalSlot names the client-local key holding the session.
	LocalSlot string
	// RequiresRefresh marks domains whose login must yield a refresh token.
	RequiresRefresh bool
}

var policies = map[Domain]Policy{
	Customer: {
		RoutePrefix: "/",
		LoginPath:   "/sign-in",
		APIPrefix:   "/auth",
		LocalSlot:   "customerAuthToken",
	},
	Vendor: {
		RoutePrefix:     "/vendor",
		LoginPath:       "/vendor/login",
		APIPrefix:       "/vendor/auth",
		AccessCookie:    "vendorAuthToken",
		RefreshCookie:   "vendorRefreshToken",
		RequiresRefresh: true,
	},
	Admin: {
		RoutePrefix:     "/admin",
		LoginPath:       "/admin/login",
		APIPrefix:       "/admin/auth",
		AccessCookie:    "adminAuthToken",
		RefreshCookie:   "adminRefreshToken",
		RequiresRefresh: true,
	},
}

// Policy returns the naming and routing rules of d. Unknown domains fall
// back to the Customer policy.
func (d Domain) Policy() Policy {
	if p, ok := policies[d]; ok {
		return p
	}
	return policies[Customer]
}

// LoginPath is shorthand for d.Policy().LoginPath.
func (d Domain) LoginPath() string { return d.Policy().LoginPath }

// UsesCookies reports whether the domain persists into the server-trusted
// cookie jar rather than the client-local slot.
func (d Domain) UsesCookies() bool { return d.Policy().AccessCookie != "" }

func (d Domain) String() string { return string(d) }

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	_, ok := policies[d]
	return ok
}

// Parse converts s to a Domain.
func Parse(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
	}
	return d, nil
}

// FromPath resolves the active domain from a route path. Only an exact
// prefix segment matches, so "/vendors" stays in the Customer domain.
func FromPath(path string) Domain {
	for _, d := range []Domain{Vendor, Admin} {
		prefix := d.Policy().RoutePrefix
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return d
		}
	}
	return Customer
}
