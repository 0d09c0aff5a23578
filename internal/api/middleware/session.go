package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
)

const (
	ctxSession      = "session"
	ctxSessionStore = "session_store"
)

// RequireSession lets a request through only when it carries a session of
// d, and injects the session and its request-scoped store into context.
// Requests without one are sent to the login entry of d.
func RequireSession(jar *cookiestore.Jar, d domain.Domain) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			store, err := jar.Store(c, d)
			if err != nil {
				return err
			}
			sess, err := store.Get(c.Request().Context())
			if err != nil {
				return err
			}
			if sess == nil {
				return RespondSessionLost(c, d, "")
			}

			c.Set(ctxSession, sess)
			c.Set(ctxSessionStore, store)
			return next(c)
		}
	}
}

// SessionFrom returns what RequireSession injected.
func SessionFrom(c echo.Context) (*domain.Session, *cookiestore.Store) {
	sess, _ := c.Get(ctxSession).(*domain.Session)
	store, _ := c.Get(ctxSessionStore).(*cookiestore.Store)
	return sess, store
}

// Navigator adapts an echo request to ports.Navigator. The redirect is
// only recorded; RespondSessionLost turns it into a response.
type Navigator struct {
	c      echo.Context
	target string
}

func NewNavigator(c echo.Context) *Navigator {
	return &Navigator{c: c}
}

func (n *Navigator) CurrentPath() string { return n.c.Request().URL.Path }

func (n *Navigator) Redirect(target string) { n.target = target }

// Target returns the recorded redirect, if any.
func (n *Navigator) Target() string { return n.target }

// Navigable reports whether r comes from a page load rather than a
// background fetch.
func Navigable(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

// RespondSessionLost sends page loads to target with 303 and answers every
// other request with 401 naming target. An empty target means the login
// entry of d.
func RespondSessionLost(c echo.Context, d domain.Domain, target string) error {
	if target == "" {
		target = d.LoginPath()
	}
	if Navigable(c.Request()) {
		return c.Redirect(http.StatusSeeOther, target)
	}
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error":    "session expired",
		"redirect": target,
	})
}
