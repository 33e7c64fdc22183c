package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/infrastructure/identity"
)

// SessionReader exposes the current local session.
type SessionReader interface {
	Session() domain.Session
}

// Auth validates the bearer token against the local session and injects the
// session's user, role and business into the context. A token that verifies
// but belongs to an identity other than the signed-in one is rejected.
func Auth(jwtSecret string, sessions SessionReader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			claims, err := identity.ParseToken(jwtSecret, parts[1])
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			sess := sessions.Session()
			if !sess.IsAuthenticated() || sess.Identity.UserID != claims.Subject {
				return echo.NewHTTPError(http.StatusUnauthorized, "session not active for token")
			}

			c.Set("user_id", claims.Subject)
			c.Set("role", sess.Role())
			if sess.Profile != nil {
				c.Set("business_id", sess.Profile.BusinessID)
			}

			return next(c)
		}
	}
}
