package middlewares

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/geocoder89/authportal/internal/session"
	"github.com/gin-gonic/gin"
)

// Decision is the gate's verdict for one request.
type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectHome
)

func (d Decision) String() string {
	switch d {
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	default:
		return "allow"
	}
}

const (
	LoginPath  = "/login"
	SignUpPath = "/signup"
	HomePath   = "/"
)

// assetExt matches a dot plus a static extension anywhere in the path, with
// no anchor, so "/a.jsx" and "/x.json/y" are assets too.
var assetExt = regexp.MustCompile(`\.(?:ico|png|jpg|jpeg|svg|css|js|woff|woff2|ttf|map|json|txt)`)

// excludedPrefixes are checked against the path without its leading slash.
var excludedPrefixes = []string{"api", "_next", "_app"}

// Excluded reports whether the gate ignores path entirely.
func Excluded(path string) bool {
	rest := strings.TrimPrefix(path, "/")

	for _, p := range excludedPrefixes {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return assetExt.MatchString(rest)
}

// IsPublic reports whether path is one of the signed-out screens.
func IsPublic(path string) bool {
	return path == LoginPath || path == SignUpPath
}

// Decide applies the gate rules to a path the gate does not exclude.
// A missing session always goes to the login screen, including from the
// login screen itself.
func Decide(path string, hasSession bool) Decision {
	if !hasSession {
		return RedirectLogin
	}
	if IsPublic(path) {
		return RedirectHome
	}
	return Allow
}

// SessionReader verifies the session cookie on a request.
type SessionReader interface {
	SessionFromRequest(r *http.Request) (*session.Claims, error)
}

type RouteGate struct {
	sessions SessionReader

	// PublicBypass lets signed-out requests reach /login and /signup
	// instead of redirecting them to /login.
	PublicBypass bool
}

func NewRouteGate(sessions SessionReader, publicBypass bool) *RouteGate {
	return &RouteGate{sessions: sessions, PublicBypass: publicBypass}
}

func (g *RouteGate) Decide(path string, hasSession bool) Decision {
	if g.PublicBypass && !hasSession && IsPublic(path) {
		return Allow
	}
	return Decide(path, hasSession)
}

func (g *RouteGate) hasSession(r *http.Request) bool {
	// any reader failure counts as signed out
	claims, err := g.sessions.SessionFromRequest(r)
	return err == nil && claims != nil
}

func (g *RouteGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if Excluded(path) {
			c.Next()
			return
		}

		switch g.Decide(path, g.hasSession(c.Request)) {
		case RedirectLogin:
			c.Redirect(http.StatusTemporaryRedirect, LoginPath)
			c.Abort()
		case RedirectHome:
			c.Redirect(http.StatusTemporaryRedirect, HomePath)
			c.Abort()
		default:
			c.Next()
		}
	}
}
