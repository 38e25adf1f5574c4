package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

const (
	ctxUserID = "user_id"
	ctxUser   = "user"
)

// accessToken reads the Bearer header first and falls back to the access cookie.
func accessToken(c echo.Context) (string, bool) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if v := cookieValue(c, accessCookie); v != "" {
		return v, true
	}
	return "", false
}

// JWTMiddleware rejects requests without a valid access token and stores the subject
// under "user_id".
func JWTMiddleware(tokens *security.TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := accessToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing or malformed access token"})
			}

			userID, err := tokens.Verify(raw, security.AccessToken)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid or expired token"})
			}

			c.Set(ctxUserID, userID)
			return next(c)
		}
	}
}

// RoleMiddleware loads the authenticated user and lets through admins and the listed roles.
// It must run after JWTMiddleware.
func RoleMiddleware(auth *usecase.AuthUsecase, log *slog.Logger, roles ...domain.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := auth.Me(c.Request().Context(), userID(c))
			if err != nil {
				if domain.KindOf(err) == domain.KindNotFound {
					return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid or expired token"})
				}
				return respondError(c, log, err)
			}

			if !hasRole(user.Role, roles) {
				return c.JSON(http.StatusForbidden, errorResponse{Error: "access denied: insufficient permissions"})
			}

			c.Set(ctxUser, user)
			return next(c)
		}
	}
}

func hasRole(role domain.Role, allowed []domain.Role) bool {
	if role == domain.RoleAdmin {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

func userID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

func deviceOf(c echo.Context) domain.Device {
	return domain.Device{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
}
