package http

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
)

// AccountHandler serves the routes of an authenticated user.
type AccountHandler struct {
	usecase *usecase.AuthUsecase
	cookies CookieConfig
	log     *slog.Logger
}

// NewAccountHandler registers the /me routes. g must already require an access token.
func NewAccountHandler(g *echo.Group, u *usecase.AuthUsecase, cookies CookieConfig, log *slog.Logger) {
	h := &AccountHandler{usecase: u, cookies: cookies, log: log}

	g.GET("", h.Me)
	g.DELETE("", h.Delete)
	g.GET("/sessions", h.Sessions)
	g.POST("/logout-all", h.LogoutAll)
	g.PUT("/profile", h.UpdateProfile)
	g.PUT("/security", h.UpdateSecurity)
}

type profileRequest struct {
	Phone *string `json:"phone"`
}

type securityRequest struct {
	CurrentPassword  string  `json:"currentPassword"`
	NewPassword      *string `json:"newPassword"`
	ConfirmPassword  *string `json:"confirmPassword"`
	TwoFactorEnabled *bool   `json:"twoFactorEnabled"`
}

type deleteRequest struct {
	Password string `json:"password"`
}

func (h *AccountHandler) Me(c echo.Context) error {
	user, err := h.usecase.Me(c.Request().Context(), userID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

func (h *AccountHandler) Sessions(c echo.Context) error {
	sessions, err := h.usecase.ListSessions(c.Request().Context(), userID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions})
}

func (h *AccountHandler) LogoutAll(c echo.Context) error {
	n, err := h.usecase.LogoutAll(c.Request().Context(), userID(c), c.RealIP())
	if err != nil {
		return respondError(c, h.log, err)
	}
	h.cookies.clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "all sessions revoked", "revoked": n})
}

func (h *AccountHandler) UpdateProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	user, err := h.usecase.UpdateProfile(c.Request().Context(), userID(c), req.Phone)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

func (h *AccountHandler) UpdateSecurity(c echo.Context) error {
	var req securityRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	user, err := h.usecase.UpdateSecurity(c.Request().Context(), userID(c), usecase.SecurityInput{
		CurrentPassword:  req.CurrentPassword,
		NewPassword:      req.NewPassword,
		ConfirmPassword:  req.ConfirmPassword,
		TwoFactorEnabled: req.TwoFactorEnabled,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": user})
}

// Delete removes the account after password confirmation.
func (h *AccountHandler) Delete(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.DeleteAccount(c.Request().Context(), userID(c), req.Password); err != nil {
		return respondError(c, h.log, err)
	}
	h.cookies.clear(c)
	return message(c, http.StatusOK, "account deleted")
}
