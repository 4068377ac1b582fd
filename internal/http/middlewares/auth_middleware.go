package middlewares

import (
	"context"
	"net/http"

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/gin-gonic/gin"
)

// SessionResolver loads the live session behind a cookie value.
type SessionResolver interface {
	GetSession(ctx context.Context, token string) (auth.SessionView, error)
}

// CookieReader extracts the raw session cookie.
type CookieReader interface {
	Raw(r *http.Request) (string, error)
}

type AuthMiddleware struct {
	sessions SessionResolver
	cookies  CookieReader
}

func NewAuthMiddleware(sessions SessionResolver, cookies CookieReader) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, cookies: cookies}
}

// LoadSession resolves the session cookie against the session store and,
// when it is live, stashes the identity on the context. It never aborts;
// handlers decide what a missing session means for them.
func (m *AuthMiddleware) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := m.cookies.Raw(c.Request)
		if err != nil {
			c.Next()
			return
		}

		view, err := m.sessions.GetSession(c.Request.Context(), raw)
		if err != nil {
			c.Next()
			return
		}

		c.Set(CtxSession, view)
		c.Set(CtxUserID, view.User.ID)
		c.Set(CtxEmail, view.User.Email)
		c.Set(CtxRole, view.User.Role)

		c.Next()
	}
}

func SessionFromContext(c *gin.Context) (auth.SessionView, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return auth.SessionView{}, false
	}
	view, ok := v.(auth.SessionView)
	return view, ok
}

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
