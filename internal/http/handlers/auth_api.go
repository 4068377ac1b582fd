package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/gin-gonic/gin"
)

// AuthService is the part of auth.Service the HTTP layer drives.
type AuthService interface {
	SignUpEmail(ctx context.Context, in auth.SignUpInput, meta auth.Meta) (auth.Result, error)
	SignInEmail(ctx context.Context, in auth.SignInInput, meta auth.Meta) (auth.Result, error)
	SignOut(ctx context.Context, token string) error
	GetSession(ctx context.Context, token string) (auth.SessionView, error)
	SendVerificationEmail(ctx context.Context, email, callbackURL string) error
	VerifyEmail(ctx context.Context, token string, meta auth.Meta) (auth.Result, error)
	SocialSignIn(provider, callbackURL string) (authURL, state string, err error)
	SocialCallback(ctx context.Context, provider, code, state, stateCookie string, meta auth.Meta) (auth.Result, error)
	SafeRedirect(target string) string
}

const requestTimeout = 5 * time.Second

type AuthHandler struct {
	svc     AuthService
	cookies *session.Cookies
}

func NewAuthHandler(svc AuthService, cookies *session.Cookies) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cookies}
}

// requestContext bounds service calls and tags them with the request id so
// queued mail can be traced back.
func requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	c := notifications.WithRequestID(ctx.Request.Context(), requestIDFrom(ctx))
	return context.WithTimeout(c, requestTimeout)
}

func requestMeta(ctx *gin.Context) auth.Meta {
	return auth.Meta{IPAddress: ctx.ClientIP(), UserAgent: ctx.Request.UserAgent()}
}

func tokenOrNil(token string) any {
	if token == "" {
		return nil
	}
	return token
}

func (h *AuthHandler) SignUpEmail(ctx *gin.Context) {
	var req auth.SignUpInput
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.SignUpEmail(cctx, req, requestMeta(ctx))
	if err != nil {
		RespondAuthError(ctx, err)
		return
	}

	if res.Token != "" {
		h.cookies.Set(ctx, res.Token, res.ExpiresAt)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"token": tokenOrNil(res.Token),
		"user":  res.User,
	})
}

func (h *AuthHandler) SignInEmail(ctx *gin.Context) {
	var req auth.SignInInput
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.SignInEmail(cctx, req, requestMeta(ctx))
	if err != nil {
		RespondAuthError(ctx, err)
		return
	}

	h.cookies.Set(ctx, res.Token, res.ExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"redirect": req.CallbackURL != "",
		"url":      res.RedirectURL,
		"token":    res.Token,
		"user":     res.User,
	})
}

func (h *AuthHandler) SignOut(ctx *gin.Context) {
	raw, _ := h.cookies.Raw(ctx.Request)

	cctx, cancel := requestContext(ctx)
	defer cancel()

	if err := h.svc.SignOut(cctx, raw); err != nil {
		RespondAuthError(ctx, err)
		return
	}

	h.cookies.Clear(ctx)
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSession answers null when there is no live session.
func (h *AuthHandler) GetSession(ctx *gin.Context) {
	raw, err := h.cookies.Raw(ctx.Request)
	if err != nil {
		ctx.JSON(http.StatusOK, nil)
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	view, err := h.svc.GetSession(cctx, raw)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) || errors.Is(err, auth.ErrInvalidToken) {
			h.cookies.Clear(ctx)
			ctx.JSON(http.StatusOK, nil)
			return
		}
		RespondAuthError(ctx, err)
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, view)
}

type sendVerificationRequest struct {
	Email       string `json:"email" binding:"required,email"`
	CallbackURL string `json:"callbackURL"`
}

func (h *AuthHandler) SendVerificationEmail(ctx *gin.Context) {
	var req sendVerificationRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	if err := h.svc.SendVerificationEmail(cctx, req.Email, req.CallbackURL); err != nil {
		RespondAuthError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": true})
}

// VerifyEmail is the target of the mailed link, so failures redirect when
// the link carries a callback.
func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	callback := ctx.Query("callbackURL")

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.VerifyEmail(cctx, ctx.Query("token"), requestMeta(ctx))
	if err != nil {
		if callback != "" {
			_, code, _ := authErrorStatus(err)
			ctx.Redirect(http.StatusFound, withErrorParam(h.svc.SafeRedirect(callback), code))
			return
		}
		RespondAuthError(ctx, err)
		return
	}

	if res.Token != "" {
		h.cookies.Set(ctx, res.Token, res.ExpiresAt)
	}

	if callback != "" {
		ctx.Redirect(http.StatusFound, h.svc.SafeRedirect(callback))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": true, "user": res.User})
}

type socialSignInRequest struct {
	Provider    string `json:"provider" binding:"required"`
	CallbackURL string `json:"callbackURL"`
}

func (h *AuthHandler) SocialSignInJSON(ctx *gin.Context) {
	var req socialSignInRequest
	if !BindJSON(ctx, &req) {
		return
	}

	authURL, ok := h.startSocial(ctx, req.Provider, req.CallbackURL)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"url": authURL, "redirect": true})
}

// SocialSignInRedirect lets the login page's plain links start the flow.
func (h *AuthHandler) SocialSignInRedirect(ctx *gin.Context) {
	authURL, ok := h.startSocial(ctx, ctx.Param("provider"), ctx.Query("callbackURL"))
	if !ok {
		return
	}
	ctx.Redirect(http.StatusFound, authURL)
}

func (h *AuthHandler) startSocial(ctx *gin.Context, provider, callbackURL string) (string, bool) {
	authURL, state, err := h.svc.SocialSignIn(provider, callbackURL)
	if err != nil {
		RespondAuthError(ctx, err)
		return "", false
	}

	h.cookies.SetState(ctx, state, auth.StateTTL)
	return authURL, true
}

// SocialCallback finishes the provider round trip and always answers with a
// redirect: to the requested page on success, to the login screen otherwise.
func (h *AuthHandler) SocialCallback(ctx *gin.Context) {
	provider := ctx.Param("provider")
	stateCookie, _ := ctx.Cookie(session.StateCookieName)
	h.cookies.ClearState(ctx)

	if e := ctx.Query("error"); e != "" {
		ctx.Redirect(http.StatusFound, withErrorParam("/login", "OAUTH_"+e))
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.SocialCallback(cctx, provider, ctx.Query("code"), ctx.Query("state"), stateCookie, requestMeta(ctx))
	if err != nil {
		_, code, _ := authErrorStatus(err)
		ctx.Redirect(http.StatusFound, withErrorParam("/login", code))
		return
	}

	h.cookies.Set(ctx, res.Token, res.ExpiresAt)
	ctx.Redirect(http.StatusFound, res.RedirectURL)
}

func withErrorParam(target, code string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/login?error=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	return u.String()
}
