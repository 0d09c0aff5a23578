package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
	"github.com/99minutos/storefront-gateway/internal/core/service"
	"github.com/99minutos/storefront-gateway/internal/infrastructure/cookiestore"
)

// SessionManager is the credential exchange and revocation surface the
// handler drives.
type SessionManager interface {
	Login(ctx context.Context, store ports.SessionStore, d domain.Domain, in service.LoginInput) (*domain.Session, error)
	Logout(ctx context.Context, store ports.SessionStore, d domain.Domain) error
}

// AuthHandler serves login, logout and session lookup for one cookie domain.
type AuthHandler struct {
	domain   domain.Domain
	sessions SessionManager
	jar      *cookiestore.Jar
}

func NewAuthHandler(d domain.Domain, sessions SessionManager, jar *cookiestore.Jar) *AuthHandler {
	return &AuthHandler{domain: d, sessions: sessions, jar: jar}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,email"`
	Secret     string `json:"secret" validate:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// sessionResponse never carries token material.
type sessionResponse struct {
	Domain    domain.Domain    `json:"domain"`
	User      domain.Principal `json:"user"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{Domain: s.Domain, User: s.Principal, ExpiresAt: s.ExpiresAt}
}

// Login exchanges credentials for a session kept in HttpOnly cookies.
//
// @Summary      Login
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        domain  path      string        true  "Session domain" Enums(vendor, admin)
// @Param        body    body      loginRequest  true  "Login credentials"
// @Success      200     {object}  sessionResponse
// @Failure      400     {object}  map[string]string
// @Failure      401     {object}  map[string]string
// @Failure      422     {object}  map[string]string
// @Failure      502     {object}  map[string]string
// @Router       /{domain}/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	store, err := h.jar.Store(c, h.domain)
	if err != nil {
		return err
	}
	sess, err := h.sessions.Login(c.Request().Context(), store, h.domain, service.LoginInput{
		Identifier: req.Identifier,
		Secret:     req.Secret,
		RememberMe: req.RememberMe,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Logout revokes the refresh token and expires the session cookies. It
// answers 204 whether or not a session existed.
//
// @Summary      Logout
// @Tags         auth
// @Param        domain  path  string  true  "Session domain" Enums(vendor, admin)
// @Success      204
// @Router       /{domain}/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	store, err := h.jar.Store(c, h.domain)
	if err != nil {
		return err
	}
	if err := h.sessions.Logout(c.Request().Context(), store, h.domain); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Session reports the principal behind the session cookies.
//
// @Summary      Current session
// @Tags         auth
// @Produce      json
// @Param        domain  path      string  true  "Session domain" Enums(vendor, admin)
// @Success      200     {object}  sessionResponse
// @Failure      401     {object}  map[string]string
// @Router       /{domain}/auth/session [get]
func (h *AuthHandler) Session(c echo.Context) error {
	store, err := h.jar.Store(c, h.domain)
	if err != nil {
		return err
	}
	sess, err := store.Get(c.Request().Context())
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%s session: %w", h.domain, domain.ErrUnauthenticated)
	}
	return c.JSON(http.StatusOK, toSessionResponse(sess))
}
