package http

import (
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"time"

	"github.com/geocoder89/authportal/internal/auth"
	"github.com/geocoder89/authportal/internal/http/handlers"
	"github.com/geocoder89/authportal/internal/http/middlewares"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/geocoder89/authportal/internal/web"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	maxAPIBodyBytes  = 1 << 20
	maxPageBodyBytes = handlers.MaxAvatarBytes + 64<<10

	authRateLimit  = 10
	authRateWindow = time.Minute
)

type Deps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger
	Prom        *observability.Prom

	Auth    *auth.Service
	Cookies *session.Cookies

	// GatePublicBypass opens /login and /signup to signed-out visitors.
	GatePublicBypass bool
}

func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	if err := handlers.RegisterValidators(); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}

	tmpl, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	r := gin.New()
	// a 301 to the slash-less path would answer before the route gate
	r.RedirectTrailingSlash = false
	r.SetHTMLTemplate(tmpl)

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	r.StaticFS(web.StaticPrefix, stdhttp.FS(web.Static()))

	opts := d.Auth.Options()
	authHandler := handlers.NewAuthHandler(d.Auth, d.Cookies)
	limiter := middlewares.NewRateLimiter(authRateLimit, authRateWindow)

	api := r.Group("/api/auth",
		middlewares.CORSMiddleware(append([]string{opts.BaseURL}, opts.TrustedOrigins...)),
		middlewares.MaxBodyBytes(maxAPIBodyBytes),
		middlewares.RequireJSON(),
	)
	{
		api.POST("/sign-up/email", limiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SignUpEmail)
		api.POST("/sign-in/email", limiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SignInEmail)
		api.POST("/sign-out", authHandler.SignOut)
		api.GET("/get-session", authHandler.GetSession)
		api.POST("/send-verification-email", limiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SendVerificationEmail)
		api.GET("/verify-email", authHandler.VerifyEmail)
		api.POST("/sign-in/social", authHandler.SocialSignInJSON)
		api.GET("/sign-in/social/:provider", authHandler.SocialSignInRedirect)
		api.GET("/callback/:provider", authHandler.SocialCallback)

		// preflight; CORSMiddleware answers before this runs
		api.OPTIONS("/*path", func(*gin.Context) {})
	}

	gate := middlewares.NewRouteGate(d.Cookies, d.GatePublicBypass)
	authMW := middlewares.NewAuthMiddleware(d.Auth, d.Cookies)
	pagesHandler := handlers.NewPagesHandler(d.Auth, d.Cookies, d.Auth.EnabledProviders())

	pages := r.Group("", gate.Middleware(), middlewares.MaxBodyBytes(maxPageBodyBytes))
	{
		pages.GET(middlewares.LoginPath, pagesHandler.LoginPage)
		pages.POST(middlewares.LoginPath, pagesHandler.Login)
		pages.GET(middlewares.SignUpPath, pagesHandler.SignUpPage)
		pages.POST(middlewares.SignUpPath, pagesHandler.SignUp)
		pages.GET(middlewares.HomePath, authMW.LoadSession(), pagesHandler.Profile)
		pages.POST("/logout", pagesHandler.Logout)
	}

	// unknown pages are gated too, so signed-out visitors land on /login
	r.NoRoute(gate.Middleware(), func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "route not found"}})
	})

	return r, nil
}

type OpsDeps struct {
	Env  string
	Prom *observability.Prom

	// Health lists what /readyz pings, by name.
	Health map[string]handlers.Pinger
}

// NewOpsRouter serves health checks and metrics. It listens on its own port so the
// app router can gate every path.
func NewOpsRouter(d OpsDeps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	h := handlers.NewHealthHandler(d.Health)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if d.Prom != nil {
		r.GET("/metrics", gin.WrapH(d.Prom.Handler()))
	}

	return r
}
