package upstreamtest

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

const (
	ctxPrincipal = "principal"
	ctxDomain    = "dom"
)

// Bearer validates the access token and injects its claims into context.
// Tokens from an expired generation of their domain are refused.
func Bearer(secret []byte, generation func(domain.Domain) int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return fail(c, http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return fail(c, http.StatusUnauthorized, "invalid authorization header")
			}

			claims := jwt.MapClaims{}
			tkn, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !tkn.Valid {
				return fail(c, http.StatusUnauthorized, "invalid token")
			}

			dom, _ := claims["dom"].(string)
			gen, _ := claims["gen"].(float64)
			if int(gen) < generation(domain.Domain(dom)) {
				return fail(c, http.StatusUnauthorized, "token expired")
			}

			c.Set(ctxPrincipal, claims["sub"])
			c.Set(ctxDomain, dom)

			return next(c)
		}
	}
}

// RequireDomain refuses tokens issued for another session domain.
func RequireDomain(d domain.Domain) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			dom, _ := c.Get(ctxDomain).(string)
			if dom != string(d) {
				return fail(c, http.StatusUnauthorized, "token issued for another domain")
			}
			return next(c)
		}
	}
}
