package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	CookieName         = "authportal.session_token"
	secureCookiePrefix = "__Secure-"

	StateCookieName = "authportal.oauth_state"
)

var ErrNoSessionCookie = errors.New("no session cookie")

// Cookies writes and reads the session cookie. Secure cookies carry the
// __Secure- prefix; reads accept either name.
type Cookies struct {
	tokens *Manager
	secure bool
}

func NewCookies(tokens *Manager, secure bool) *Cookies {
	return &Cookies{tokens: tokens, secure: secure}
}

func (c *Cookies) Name() string {
	if c.secure {
		return secureCookiePrefix + CookieName
	}
	return CookieName
}

// Raw returns the session cookie value, or ErrNoSessionCookie.
func (c *Cookies) Raw(r *http.Request) (string, error) {
	for _, name := range []string{secureCookiePrefix + CookieName, CookieName} {
		ck, err := r.Cookie(name)
		if err == nil && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", ErrNoSessionCookie
}

// SessionFromRequest reads and verifies the session cookie without touching
// the session store.
func (c *Cookies) SessionFromRequest(r *http.Request) (*Claims, error) {
	raw, err := c.Raw(r)
	if err != nil {
		return nil, err
	}
	return c.tokens.VerifySession(raw)
}

func (c *Cookies) Set(ctx *gin.Context, raw string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(c.Name(), raw, maxAge, "/", "", c.secure, true)
}

func (c *Cookies) Clear(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(c.Name(), "", -1, "/", "", c.secure, true)
}

func (c *Cookies) SetState(ctx *gin.Context, raw string, ttl time.Duration) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(StateCookieName, raw, int(ttl.Seconds()), "/api/auth", "", c.secure, true)
}

func (c *Cookies) ClearState(ctx *gin.Context) {
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(StateCookieName, "", -1, "/api/auth", "", c.secure, true)
}
