package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
)

// AuthHandler serves the unauthenticated credential flows.
type AuthHandler struct {
	usecase *usecase.AuthUsecase
	cookies CookieConfig
	log     *slog.Logger
}

// NewAuthHandler registers the authentication routes on g. limit guards the
// credential-guessing surface and may be nil.
func NewAuthHandler(g *echo.Group, u *usecase.AuthUsecase, cookies CookieConfig, log *slog.Logger, limit echo.MiddlewareFunc) {
	h := &AuthHandler{usecase: u, cookies: cookies, log: log}

	var guarded []echo.MiddlewareFunc
	if limit != nil {
		guarded = append(guarded, limit)
	}

	g.POST("/register", h.Register, guarded...)
	g.POST("/register/confirm", h.ConfirmRegistration, guarded...)
	g.POST("/register/resend", h.ResendRegistration, guarded...)
	g.POST("/verification-status", h.VerificationStatus, guarded...)

	g.POST("/login", h.Login, guarded...)
	g.POST("/login/2fa", h.LoginTwoFactor, guarded...)
	g.POST("/refresh", h.Refresh, guarded...)
	g.POST("/logout", h.Logout)

	g.POST("/forgot", h.ForgotPassword, guarded...)
	g.POST("/forgot/confirm", h.CheckResetCode, guarded...)
	g.POST("/reset", h.ResetPassword, guarded...)
	g.POST("/verify", h.VerifyEmail, guarded...)
	g.POST("/resend", h.ResendVerification, guarded...)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type loginRequest struct {
	Identifier string `json:"emailOrUsername"`
	Password   string `json:"password"`
}

type twoFactorRequest struct {
	Identifier string `json:"emailOrUsername"`
	Code       string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

const (
	msgCodeSent  = "if the address can receive it, a code has been sent"
	msgResetSent = "if an account exists for this email, a reset code has been sent"
)

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	err := h.usecase.StartRegistration(c.Request().Context(), usecase.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, "verification code sent, confirm your email to finish registration")
}

// ConfirmRegistration creates the account and opens its first session.
func (h *AuthHandler) ConfirmRegistration(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.usecase.ConfirmRegistration(c.Request().Context(), req.Email, req.Code, deviceOf(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	h.cookies.setSession(c, resp)
	return c.JSON(http.StatusCreated, resp)
}

func (h *AuthHandler) ResendRegistration(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.ResendPendingCode(c.Request().Context(), req.Email); err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, msgCodeSent)
}

func (h *AuthHandler) VerificationStatus(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	st, err := h.usecase.VerificationStatus(c.Request().Context(), req.Email)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"pending":       st.Pending,
		"userExists":    st.UserExists,
		"emailVerified": st.EmailVerified,
	})
}

// Login handles the password step. Accounts with two-factor login get 202 and a texted code.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.usecase.Login(c.Request().Context(), req.Identifier, req.Password, deviceOf(c))
	if errors.Is(err, usecase.ErrTwoFactorRequired) {
		return c.JSON(http.StatusAccepted, echo.Map{
			"message":         "two_factor_required",
			"emailOrUsername": req.Identifier,
		})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}

	h.cookies.setSession(c, resp)
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) LoginTwoFactor(c echo.Context) error {
	var req twoFactorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	resp, err := h.usecase.VerifyTwoFactor(c.Request().Context(), req.Identifier, req.Code, deviceOf(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	h.cookies.setSession(c, resp)
	return c.JSON(http.StatusOK, resp)
}

// Refresh rotates the refresh token from the cookie, or from the body for non-browser clients.
func (h *AuthHandler) Refresh(c echo.Context) error {
	token := cookieValue(c, refreshCookie)
	if token == "" {
		var req refreshRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		token = req.RefreshToken
	}

	resp, err := h.usecase.Refresh(c.Request().Context(), token, deviceOf(c))
	if err != nil {
		h.cookies.clear(c)
		return respondError(c, h.log, err)
	}

	h.cookies.setSession(c, resp)
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	token := cookieValue(c, refreshCookie)
	if token == "" {
		var req refreshRequest
		_ = c.Bind(&req)
		token = req.RefreshToken
	}

	h.usecase.Logout(c.Request().Context(), token)
	h.cookies.clear(c)
	return message(c, http.StatusOK, "logged out")
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, msgResetSent)
}

func (h *AuthHandler) CheckResetCode(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.CheckResetCode(c.Request().Context(), req.Email, req.Code); err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, "code is valid")
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.ConfirmForgotPassword(c.Request().Context(), req.Email, req.Code, req.NewPassword); err != nil {
		return respondError(c, h.log, err)
	}
	h.cookies.clear(c)
	return message(c, http.StatusOK, "password updated, please log in again")
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req codeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.VerifyEmail(c.Request().Context(), req.Email, req.Code); err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, "email verified")
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req emailRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	if err := h.usecase.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return respondError(c, h.log, err)
	}
	return message(c, http.StatusOK, msgCodeSent)
}
