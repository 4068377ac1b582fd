// Package auth implements the credential flows: email and password, OAuth
// via Google and GitHub, email verification and session issuance.
package auth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/geocoder89/authportal/internal/security"
	"github.com/geocoder89/authportal/internal/session"
)

var (
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailTaken            = errors.New("user already exists")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrPasswordTooShort      = security.ErrPasswordTooShort
	ErrPasswordTooLong       = security.ErrPasswordTooLong
	ErrProviderNotEnabled    = errors.New("provider not enabled")
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrInvalidToken          = errors.New("invalid token")
	ErrSessionNotFound       = errors.New("session not found")
	ErrEmailPasswordDisabled = errors.New("email and password sign-in is disabled")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrAccountNotLinked      = errors.New("provider email not verified, account not linked")
)

type EmailAndPasswordOptions struct {
	Enabled                  bool
	MinPasswordLength        int
	MaxPasswordLength        int
	RequireEmailVerification bool
	AutoSignIn               bool
}

type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether both halves of the credential pair are set.
func (p ProviderCredentials) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type SocialProviders struct {
	Google ProviderCredentials
	GitHub ProviderCredentials
}

type EmailVerificationOptions struct {
	SendOnSignUp                bool
	AutoSignInAfterVerification bool
	ExpiresIn                   time.Duration
	Sender                      notifications.Notifier
}

type SessionOptions struct {
	ExpiresIn time.Duration
}

type Options struct {
	BaseURL        string
	Secret         string
	TrustedOrigins []string

	EmailAndPassword  EmailAndPasswordOptions
	SocialProviders   SocialProviders
	EmailVerification EmailVerificationOptions
	Session           SessionOptions
}

// DefaultOptions returns the stock configuration: email and password on with
// an 8..72 password, no required verification, sign-in after sign-up and
// seven-day sessions.
func DefaultOptions() Options {
	return Options{
		BaseURL: "http://localhost:3000",
		EmailAndPassword: EmailAndPasswordOptions{
			Enabled:           true,
			MinPasswordLength: 8,
			MaxPasswordLength: security.MaxBcryptInput,
			AutoSignIn:        true,
		},
		EmailVerification: EmailVerificationOptions{
			SendOnSignUp: true,
			ExpiresIn:    time.Hour,
		},
		Session: SessionOptions{ExpiresIn: 7 * 24 * time.Hour},
	}
}

// Service holds every collaborator the flows need. Build one per process
// and share it across handlers.
type Service struct {
	opts      Options
	users     user.Store
	sessions  session.Store
	tokens    *session.Manager
	policy    security.PasswordPolicy
	providers map[string]Provider
	log       *slog.Logger
	prom      *observability.Prom
	now       func() time.Time
}

func New(opts Options, users user.Store, sessions session.Store, tokens *session.Manager, log *slog.Logger, prom *observability.Prom) *Service {
	if opts.Session.ExpiresIn <= 0 {
		opts.Session.ExpiresIn = 7 * 24 * time.Hour
	}
	if opts.EmailVerification.ExpiresIn <= 0 {
		opts.EmailVerification.ExpiresIn = time.Hour
	}
	if opts.EmailVerification.Sender == nil {
		opts.EmailVerification.Sender = notifications.NewLogNotifier(log)
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		opts:     opts,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		policy: security.PasswordPolicy{
			MinLength: opts.EmailAndPassword.MinPasswordLength,
			MaxLength: opts.EmailAndPassword.MaxPasswordLength,
		}.Normalize(),
		providers: map[string]Provider{},
		log:       log,
		prom:      prom,
		now:       func() time.Time { return time.Now().UTC() },
	}

	if c := opts.SocialProviders.Google; c.Enabled() {
		s.providers[user.ProviderGoogle] = NewGoogleProvider(c, s.callbackURL(user.ProviderGoogle))
	}
	if c := opts.SocialProviders.GitHub; c.Enabled() {
		s.providers[user.ProviderGitHub] = NewGitHubProvider(c, s.callbackURL(user.ProviderGitHub))
	}

	return s
}

func (s *Service) Options() Options {
	return s.opts
}

// RegisterProvider replaces or adds an OAuth provider.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// EnabledProviders lists configured OAuth providers in a stable order.
func (s *Service) EnabledProviders() []string {
	var out []string
	for _, name := range []string{user.ProviderGoogle, user.ProviderGitHub} {
		if _, ok := s.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (s *Service) callbackURL(provider string) string {
	return s.opts.BaseURL + "/api/auth/callback/" + provider
}

// Result is what a successful flow hands back to the transport layer. Token
// is empty when no session was issued.
type Result struct {
	User        user.User
	Token       string
	ExpiresAt   time.Time
	RedirectURL string
}

// SessionView is the JSON shape of get-session.
type SessionView struct {
	Session session.Record `json:"session"`
	User    user.User      `json:"user"`
}

// Meta carries request details stored on the session record.
type Meta struct {
	IPAddress string
	UserAgent string
}
