package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/http/middlewares"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/gin-gonic/gin"
)

// MaxAvatarBytes bounds the signup picture, stored inline as a data: URL.
const MaxAvatarBytes = 1 << 20

var errAvatarTooLarge = errors.New("avatar too large")

type pageData struct {
	Title       string
	Error       string
	Notice      string
	Values      map[string]string
	Fields      map[string]string
	Providers   []string
	SocialLabel string
	User        *user.User
}

// PagesHandler renders the login, signup and profile screens. Forms post
// back here and call the auth service directly.
type PagesHandler struct {
	svc       AuthService
	cookies   *session.Cookies
	providers []string
}

func NewPagesHandler(svc AuthService, cookies *session.Cookies, providers []string) *PagesHandler {
	return &PagesHandler{svc: svc, cookies: cookies, providers: providers}
}

func (h *PagesHandler) page(title, socialLabel string) pageData {
	return pageData{
		Title:       title,
		Values:      map[string]string{},
		Fields:      map[string]string{},
		Providers:   h.providers,
		SocialLabel: socialLabel,
	}
}

// loginErrors translates ?error= codes set by OAuth and verification
// redirects.
var loginErrors = map[string]string{
	"INVALID_STATE":      "Your sign-in attempt expired. Please try again.",
	"EMAIL_NOT_FOUND":    "Your provider account has no email address we can use.",
	"INVALID_TOKEN":      "That link is invalid or has expired.",
	"ACCOUNT_NOT_LINKED": "An account with this email already exists. Sign in with your password first.",
}

func (h *PagesHandler) LoginPage(ctx *gin.Context) {
	data := h.page("Sign in", "Or continue with")
	if code := ctx.Query("error"); code != "" {
		data.Error = loginErrors[code]
		if data.Error == "" {
			data.Error = "Sign-in failed. Please try again."
		}
	}
	ctx.HTML(http.StatusOK, "login.html", data)
}

func (h *PagesHandler) Login(ctx *gin.Context) {
	data := h.page("Sign in", "Or continue with")

	var form user.LoginForm
	fields, ok := BindForm(ctx, &form, user.LoginFieldMessages, user.FieldMessages)
	data.Values["email"] = form.Email
	if !ok {
		data.Fields = fields
		data.Error = fields[""]
		ctx.HTML(http.StatusBadRequest, "login.html", data)
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.SignInEmail(cctx, auth.SignInInput{Email: form.Email, Password: form.Password}, requestMeta(ctx))
	if err != nil {
		status, _, message := authErrorStatus(err)
		if errors.Is(err, auth.ErrEmailNotVerified) {
			message = "Please verify your email address. We sent you a new link."
		}
		data.Error = message
		ctx.HTML(status, "login.html", data)
		return
	}

	h.cookies.Set(ctx, res.Token, res.ExpiresAt)
	ctx.Redirect(http.StatusSeeOther, middlewares.HomePath)
}

func (h *PagesHandler) SignUpPage(ctx *gin.Context) {
	ctx.HTML(http.StatusOK, "signup.html", h.page("Create Account", "Or sign up with"))
}

func (h *PagesHandler) SignUp(ctx *gin.Context) {
	data := h.page("Create Account", "Or sign up with")

	var form user.SignUpForm
	fields, ok := BindForm(ctx, &form, user.SignUpFieldMessages, user.FieldMessages)
	data.Values["name"] = form.Name
	data.Values["username"] = form.Username
	data.Values["email"] = form.Email
	if !ok {
		data.Fields = fields
		data.Error = fields[""]
		ctx.HTML(http.StatusBadRequest, "signup.html", data)
		return
	}

	image, err := avatarDataURL(form.Image)
	if err != nil {
		data.Fields["image"] = "Profile picture must be an image of at most 1 MB"
		ctx.HTML(http.StatusBadRequest, "signup.html", data)
		return
	}

	cctx, cancel := requestContext(ctx)
	defer cancel()

	res, err := h.svc.SignUpEmail(cctx, auth.SignUpInput{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		Image:    image,
	}, requestMeta(ctx))
	if err != nil {
		status, _, message := authErrorStatus(err)
		if errors.Is(err, auth.ErrEmailTaken) {
			data.Fields["email"] = "An account with this email already exists"
		} else {
			data.Error = message
		}
		ctx.HTML(status, "signup.html", data)
		return
	}

	if res.Token == "" {
		// verification required before the first sign-in
		login := h.page("Sign in", "Or continue with")
		login.Notice = "Account created. Check your inbox to verify your email address."
		login.Values["email"] = res.User.Email
		ctx.HTML(http.StatusOK, "login.html", login)
		return
	}

	h.cookies.Set(ctx, res.Token, res.ExpiresAt)
	ctx.Redirect(http.StatusSeeOther, middlewares.HomePath)
}

// Profile relies on LoadSession. A cookie that passed the gate but whose
// session was revoked is cleared here.
func (h *PagesHandler) Profile(ctx *gin.Context) {
	view, ok := middlewares.SessionFromContext(ctx)
	if !ok {
		h.cookies.Clear(ctx)
		ctx.Redirect(http.StatusFound, middlewares.LoginPath)
		return
	}

	data := h.page("Profile", "")
	data.User = &view.User
	ctx.HTML(http.StatusOK, "profile.html", data)
}

func (h *PagesHandler) Logout(ctx *gin.Context) {
	raw, _ := h.cookies.Raw(ctx.Request)

	cctx, cancel := requestContext(ctx)
	defer cancel()

	// the cookie goes either way; a store error only leaves a dead record
	_ = h.svc.SignOut(cctx, raw)

	h.cookies.Clear(ctx)
	ctx.Redirect(http.StatusSeeOther, middlewares.LoginPath)
}

// avatarDataURL inlines an uploaded image. No upload yields "".
func avatarDataURL(fh *multipart.FileHeader) (string, error) {
	if fh == nil {
		return "", nil
	}
	if fh.Size > MaxAvatarBytes {
		return "", errAvatarTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	b, err := io.ReadAll(io.LimitReader(f, MaxAvatarBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > MaxAvatarBytes {
		return "", errAvatarTooLarge
	}
	if len(b) == 0 {
		return "", nil
	}

	contentType := http.DetectContentType(b)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}

	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
