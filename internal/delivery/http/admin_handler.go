package http

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
)

type AdminHandler struct {
	usecase *usecase.AuthUsecase
	log     *slog.Logger
}

// NewAdminHandler registers the admin routes. g must already require the admin role.
func NewAdminHandler(g *echo.Group, u *usecase.AuthUsecase, log *slog.Logger) {
	h := &AdminHandler{usecase: u, log: log}
	g.POST("/users", h.CreateUser)
}

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

func (h *AdminHandler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	user, err := h.usecase.CreateUser(c.Request().Context(), usecase.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Phone:    req.Phone,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": user})
}
