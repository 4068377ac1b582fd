package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/geocoder89/authportal/internal/auth"
	httpx "github.com/geocoder89/authportal/internal/http"
	"github.com/geocoder89/authportal/internal/http/handlers"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/repo/memory"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	router http.Handler
	ops    http.Handler
	users  *memory.UsersRepo
	svc    *auth.Service
}

// stubProvider answers the code exchange with a fixed profile.
type stubProvider struct {
	name    string
	profile auth.Profile
}

func (p stubProvider) Name() string { return p.name }
func (p stubProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + url.QueryEscape(state)
}
func (p stubProvider) Exchange(context.Context, string) (auth.Profile, error) {
	return p.profile, nil
}

func newTestApp(t *testing.T, bypass bool) testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := auth.DefaultOptions()
	opts.Secret = "router-test-secret"
	opts.EmailVerification.Sender = notifications.NewLogNotifier(log)

	users := memory.NewUsersRepo()
	sessions := session.NewMemoryStore()
	tokens := session.NewManager(opts.Secret)
	svc := auth.New(opts, users, sessions, tokens, log, nil)

	r, err := httpx.NewRouter(httpx.Deps{
		Env:              "test",
		Log:              log,
		Auth:             svc,
		Cookies:          session.NewCookies(tokens, false),
		GatePublicBypass: bypass,
	})
	require.NoError(t, err)

	ops := httpx.NewOpsRouter(httpx.OpsDeps{
		Env:    "test",
		Prom:   observability.NewProm(prometheus.NewRegistry()),
		Health: map[string]handlers.Pinger{"users": users, "sessions": sessions},
	})

	return testApp{router: r, ops: ops, users: users, svc: svc}
}

func (a testApp) do(t *testing.T, req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response, headers=%v", w.Header())
	return nil
}

func TestOpsRouter_Health(t *testing.T) {
	app := newTestApp(t, false)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		app.ops.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)

	w := get("/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")

	assert.Equal(t, http.StatusOK, get("/metrics").Code)
}

func TestRouter_OpsPathsAreGated(t *testing.T) {
	app := newTestApp(t, false)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := app.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code, path)
		assert.Equal(t, "/login", w.Header().Get("Location"), path)
	}
}

func TestRouter_TrailingSlashIsGated(t *testing.T) {
	app := newTestApp(t, true)

	// /login is public with the bypass, /login/ is a different path
	w := app.do(t, httptest.NewRequest(http.MethodGet, "/login/", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/signup/", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestRouter_GateForSignedOutVisitor(t *testing.T) {
	app := newTestApp(t, false)

	w := app.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	// unknown pages are gated as well
	w = app.do(t, httptest.NewRequest(http.MethodGet, "/settings", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	// /login redirects to itself unless the public bypass is on
	w = app.do(t, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/_app/app.css", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))
}

func TestRouter_SocialCallbackRefusesUnverifiedEmailLink(t *testing.T) {
	app := newTestApp(t, true)

	w := app.do(t, jsonRequest(http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Ada","email":"ada@example.com","password":"Passw0rd!"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	app.svc.RegisterProvider(stubProvider{name: "github", profile: auth.Profile{
		ID: "gh-other", Email: "ada@example.com", EmailVerified: false,
	}})

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/sign-in/social/github", nil))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.StateCookieName {
			state = c
		}
	}
	require.NotNil(t, state)

	w = app.do(t, httptest.NewRequest(http.MethodGet,
		"/api/auth/callback/github?code=c&state="+url.QueryEscape(authURL.Query().Get("state")), nil), state)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?error=ACCOUNT_NOT_LINKED", w.Header().Get("Location"))
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, session.CookieName, c.Name, "no session may be issued")
	}

	u, err := app.users.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Empty(t, u.GitHubID)

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/login?error=ACCOUNT_NOT_LINKED", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in with your password first.")
}

func TestRouter_APISessionLifecycle(t *testing.T) {
	app := newTestApp(t, false)

	w := app.do(t, jsonRequest(http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Ada Lovelace","email":"ada@example.com","password":"Passw0rd!"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookie := sessionCookie(t, w)

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil), cookie)
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		Session struct {
			ID     string `json:"id"`
			UserID string `json:"userId"`
		} `json:"session"`
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "ada@example.com", view.User.Email)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	// signed in: the profile renders, the auth pages bounce home
	w = app.do(t, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ada Lovelace")

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/signup", nil), cookie)
	assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = app.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/sign-out", nil), cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/get-session", nil), cookie)
	assert.Equal(t, "null", strings.TrimSpace(w.Body.String()))

	// the cookie still passes the gate, the profile handler clears it
	w = app.do(t, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestRouter_APISignInErrors(t *testing.T) {
	app := newTestApp(t, false)

	w := app.do(t, jsonRequest(http.MethodPost, "/api/auth/sign-in/email",
		`{"email":"nobody@example.com","password":"Passw0rd!"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_EMAIL_OR_PASSWORD")

	req := formRequest("/api/auth/sign-in/email", url.Values{"email": {"a@example.com"}})
	w = app.do(t, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = app.do(t, jsonRequest(http.MethodPost, "/api/auth/sign-in/social", `{"provider":"google"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PROVIDER_NOT_FOUND")
}

func TestRouter_PagesFlow(t *testing.T) {
	app := newTestApp(t, true)

	w := app.do(t, httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Welcome back")

	w = app.do(t, formRequest("/signup", url.Values{
		"name":     {"Grace Hopper"},
		"username": {"grace hopper"},
		"email":    {"grace@example.com"},
		"password": {"password"},
	}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Username can only contain letters, numbers and underscores")
	assert.Contains(t, body, "Password must contain at least one uppercase letter")
	assert.Contains(t, body, "grace@example.com", "values are echoed back")

	w = app.do(t, formRequest("/signup", url.Values{
		"name":     {"Grace Hopper"},
		"username": {"grace_h"},
		"email":    {"grace@example.com"},
		"password": {"Passw0rd"},
	}))
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/", w.Header().Get("Location"))
	cookie := sessionCookie(t, w)

	w = app.do(t, httptest.NewRequest(http.MethodPost, "/logout", nil), cookie)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = app.do(t, formRequest("/login", url.Values{"email": {"grace@example.com"}, "password": {"Wrong-pass1"}}))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")

	w = app.do(t, formRequest("/login", url.Values{"email": {"grace@example.com"}, "password": {"Passw0rd"}}))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestRouter_LoginPageFieldMessages(t *testing.T) {
	app := newTestApp(t, true)

	w := app.do(t, formRequest("/login", url.Values{"email": {"not-an-email"}, "password": {"abc"}}))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email address")
	assert.Contains(t, w.Body.String(), "Password must be at least 6 characters")

	w = app.do(t, httptest.NewRequest(http.MethodGet, "/login?error=INVALID_STATE", nil))
	assert.Contains(t, w.Body.String(), "Your sign-in attempt expired")
}

func TestRouter_SignUpWithAvatar(t *testing.T) {
	app := newTestApp(t, true)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"name":     "Alan Turing",
		"username": "alan",
		"email":    "alan@example.com",
		"password": "Enigma1939",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("image", "me.png")
	require.NoError(t, err)
	_, err = fw.Write(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/signup", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := app.do(t, req)
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

	u, err := app.users.GetByEmail(req.Context(), "alan@example.com")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u.Image, "data:image/png;base64,"))
}

func TestRouter_SignUpRejectsNonImageAvatar(t *testing.T) {
	app := newTestApp(t, true)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"name":     "Alan Turing",
		"username": "alan",
		"email":    "alan@example.com",
		"password": "Enigma1939",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("image", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("just some text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/signup", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := app.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Profile picture must be an image")
}
