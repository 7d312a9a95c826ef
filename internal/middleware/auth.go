package middleware

import (
	"net/http"
	"strings"

	"brenda-cereals/internal/model"
	"brenda-cereals/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	SessionCookie = "session"

	userIDKey = "user_id"
	roleKey   = "user_role"
)

// TokenParser resolves a session token to its user.
type TokenParser interface {
	ParseToken(token string) (*service.Session, error)
}

// AuthMiddleware requires a valid session from the Authorization header or the session cookie
// and stores the user on the context.
func AuthMiddleware(parser TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := sessionToken(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}

			session, err := parser.ParseToken(token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid session")
			}

			c.Set(userIDKey, session.UserID)
			c.Set(roleKey, session.Role)
			return next(c)
		}
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role, _ := c.Get(roleKey).(model.Role); role != model.RoleAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "Admin access required")
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated user's id, empty outside AuthMiddleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func sessionToken(c echo.Context) string {
	if ah := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
