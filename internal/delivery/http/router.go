package http

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"
)

// Deps are the collaborators of every route.
type Deps struct {
	Auth    *usecase.AuthUsecase
	Tokens  *security.TokenIssuer
	Cookies CookieConfig
	Log     *slog.Logger
	// Limit throttles sensitive routes. Nil disables throttling.
	Limit echo.MiddlewareFunc
}

// RegisterRoutes mounts the public, account and admin routes on g.
func RegisterRoutes(g *echo.Group, d Deps) {
	NewAuthHandler(g, d.Auth, d.Cookies, d.Log, d.Limit)

	authed := JWTMiddleware(d.Tokens)
	NewAccountHandler(g.Group("/me", authed), d.Auth, d.Cookies, d.Log)
	NewAdminHandler(g.Group("/admin", authed, RoleMiddleware(d.Auth, d.Log, domain.RoleAdmin)), d.Auth, d.Log)
}
