package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
)

const (
	accessCookie  = "token"
	refreshCookie = "refreshToken"
)

// CookieConfig controls the auth cookies. Cookies are Secure when Secure is set
// or the request arrived over TLS.
type CookieConfig struct {
	Secure bool
	Domain string
}

func (cc CookieConfig) cookie(c echo.Context, name, value string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if value == "" {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   cc.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cc.Secure || c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) setSession(c echo.Context, resp *domain.AuthResponse) {
	c.SetCookie(cc.cookie(c, accessCookie, resp.AccessToken, resp.AccessExpiresAt))
	c.SetCookie(cc.cookie(c, refreshCookie, resp.RefreshToken, resp.RefreshExpiresAt))
}

func (cc CookieConfig) clear(c echo.Context) {
	c.SetCookie(cc.cookie(c, accessCookie, "", time.Unix(0, 0)))
	c.SetCookie(cc.cookie(c, refreshCookie, "", time.Unix(0, 0)))
}

func cookieValue(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
