package upstreamtest

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	RememberMe bool   `json:"rememberMe"`
}

type userDoc struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

type loginData struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken,omitempty"`
	User         userDoc `json:"user"`
}

func (s *Server) login(d domain.Domain) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := c.Bind(&req); err != nil {
			return fail(c, http.StatusBadRequest, "invalid payload")
		}
		if strings.TrimSpace(req.Identifier) == "" || req.Secret == "" {
			return c.JSON(http.StatusUnprocessableEntity, envelope{
				Success: false,
				Message: "validation failed",
				Errors:  map[string]string{"identifier": "identifier and secret are required"},
			})
		}

		s.mu.Lock()
		a := s.accounts[d][req.Identifier]
		s.mu.Unlock()
		if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(req.Secret)) != nil {
			return fail(c, http.StatusUnauthorized, "invalid credentials")
		}

		access, err := s.issueAccess(d, a)
		if err != nil {
			return fail(c, http.StatusInternalServerError, err.Error())
		}
		data := loginData{
			AccessToken: access,
			User:        userDoc{ID: a.id, Email: a.email, Name: a.name, Role: string(d)},
		}
		if d.Policy().RequiresRefresh || s.customerRefresh {
			s.mu.Lock()
			data.RefreshToken = s.issueRefresh(d, a.id)
			s.mu.Unlock()
		}
		return c.JSON(http.StatusOK, envelope{Success: true, Message: "ok", Data: data})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (s *Server) refresh(d domain.Domain) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req refreshRequest
		if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
			s.count(s.refreshCalls, d)
			return fail(c, http.StatusBadRequest, "refresh token required")
		}

		s.mu.Lock()
		s.refreshCalls[d]++
		status := s.refreshStatus[d]
		s.mu.Unlock()

		if s.refreshDelay > 0 {
			select {
			case <-time.After(s.refreshDelay):
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if status != 0 {
			return fail(c, status, http.StatusText(status))
		}

		s.mu.Lock()
		g, ok := s.grants[req.RefreshToken]
		if !ok || g.revoked || g.domain != d {
			s.mu.Unlock()
			return fail(c, http.StatusUnauthorized, "refresh token rejected")
		}
		a := s.findByID(d, g.userID)
		var rotated string
		if s.rotate {
			g.revoked = true
			rotated = s.issueRefresh(d, g.userID)
		}
		s.mu.Unlock()
		if a == nil {
			return fail(c, http.StatusUnauthorized, "unknown account")
		}

		access, err := s.issueAccess(d, a)
		if err != nil {
			return fail(c, http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, refreshResponse{Token: access, RefreshToken: rotated})
	}
}

func (s *Server) logout(d domain.Domain) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req refreshRequest
		_ = c.Bind(&req)

		s.mu.Lock()
		s.logoutCalls[d]++
		if g, ok := s.grants[req.RefreshToken]; ok && g.domain == d {
			g.revoked = true
		}
		s.mu.Unlock()

		return c.JSON(http.StatusOK, envelope{Success: true})
	}
}

// serveAPI answers authenticated API calls with what the caller presented.
func (s *Server) serveAPI(d domain.Domain) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.count(s.apiCalls, d)
		return c.JSON(http.StatusOK, map[string]any{
			"domain":    string(d),
			"principal": c.Get(ctxPrincipal),
			"method":    c.Request().Method,
			"path":      c.Request().URL.Path,
		})
	}
}

func (s *Server) count(m map[domain.Domain]int, d domain.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[d]++
}
