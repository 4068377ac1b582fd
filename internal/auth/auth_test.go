package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/notifications"
	"github.com/geocoder89/authportal/internal/repo/memory"
	"github.com/geocoder89/authportal/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notifications.VerificationEmail
	err  error
}

func (c *captureNotifier) SendVerificationEmail(_ context.Context, in notifications.VerificationEmail) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, in)
	return c.err
}

func (c *captureNotifier) lastToken(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no verification email sent")
	u, err := url.Parse(c.sent[len(c.sent)-1].URL)
	require.NoError(t, err)
	return u.Query().Get("token")
}

type fakeProvider struct {
	name    string
	profile Profile
	err     error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/auth?state=" + url.QueryEscape(state)
}
func (f *fakeProvider) Exchange(context.Context, string) (Profile, error) {
	return f.profile, f.err
}

type fixture struct {
	svc      *Service
	users    *memory.UsersRepo
	sessions *session.MemoryStore
	mail     *captureNotifier
}

func newFixture(t *testing.T, mutate func(*Options)) fixture {
	t.Helper()

	opts := DefaultOptions()
	opts.Secret = "test-secret"
	mail := &captureNotifier{}
	opts.EmailVerification.Sender = mail
	if mutate != nil {
		mutate(&opts)
	}

	users := memory.NewUsersRepo()
	sessions := session.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := New(opts, users, sessions, session.NewManager(opts.Secret), log, nil)
	return fixture{svc: svc, users: users, sessions: sessions, mail: mail}
}

var meta = Meta{IPAddress: "10.0.0.1", UserAgent: "test"}

func TestSignUpEmail_IssuesSessionAndSendsVerification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: " Ada ", Email: "Ada@Example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.Equal(t, "Ada", res.User.Name)
	assert.Equal(t, user.DefaultRole, res.User.Role)
	assert.Equal(t, user.DefaultStatus, res.User.Status)
	assert.False(t, res.User.EmailVerified)
	assert.NotEqual(t, "Passw0rd!", res.User.Password)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, 1, f.sessions.Len())

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "ada@example.com", f.mail.sent[0].To)
	assert.True(t, strings.HasPrefix(f.mail.sent[0].URL, "http://localhost:3000/api/auth/verify-email?token="))
}

func TestSignUpEmail_PasswordBounds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "A", Email: "a@example.com", Password: "short"}, meta)
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = f.svc.SignUpEmail(ctx, SignUpInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("a", 73)}, meta)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = f.svc.SignUpEmail(ctx, SignUpInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("a", 72)}, meta)
	assert.NoError(t, err)
}

func TestSignUpEmail_DuplicateEmail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "A", Email: "a@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)

	_, err = f.svc.SignUpEmail(ctx, SignUpInput{Name: "B", Email: "A@example.com", Password: "Passw0rd!"}, meta)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpEmail_Disabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.EmailAndPassword.Enabled = false })

	_, err := f.svc.SignUpEmail(context.Background(), SignUpInput{Name: "A", Email: "a@example.com", Password: "Passw0rd!"}, meta)
	assert.ErrorIs(t, err, ErrEmailPasswordDisabled)
}

func TestSignUpEmail_MailFailureDoesNotFailSignUp(t *testing.T) {
	f := newFixture(t, nil)
	f.mail.err = errors.New("relay down")

	res, err := f.svc.SignUpEmail(context.Background(), SignUpInput{Name: "A", Email: "a@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestSignInSignOutRoundTrip(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.EmailVerification.SendOnSignUp = false })
	ctx := context.Background()

	_, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)

	_, err = f.svc.SignInEmail(ctx, SignInInput{Email: "ada@example.com", Password: "wrong-pass"}, meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.SignInEmail(ctx, SignInInput{Email: "nobody@example.com", Password: "Passw0rd!"}, meta)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	res, err := f.svc.SignInEmail(ctx, SignInInput{Email: " ADA@example.com", Password: "Passw0rd!", CallbackURL: "//evil.example.com"}, meta)
	require.NoError(t, err)
	assert.Equal(t, "/", res.RedirectURL)

	view, err := f.svc.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", view.User.Email)
	assert.Equal(t, "10.0.0.1", view.Session.IPAddress)

	require.NoError(t, f.svc.SignOut(ctx, res.Token))
	_, err = f.svc.GetSession(ctx, res.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// idempotent
	require.NoError(t, f.svc.SignOut(ctx, res.Token))
	require.NoError(t, f.svc.SignOut(ctx, "garbage"))
	require.NoError(t, f.svc.SignOut(ctx, ""))
}

func TestGetSession_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.GetSession(context.Background(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.svc.GetSession(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmailVerificationRoundTrip(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.EmailAndPassword.RequireEmailVerification = true
		o.EmailVerification.AutoSignInAfterVerification = true
	})
	ctx := context.Background()

	res, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)
	assert.Empty(t, res.Token, "no session before verification")
	require.Len(t, f.mail.sent, 1)

	_, err = f.svc.SignInEmail(ctx, SignInInput{Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	assert.ErrorIs(t, err, ErrEmailNotVerified)
	assert.Len(t, f.mail.sent, 2, "sign-in re-sends the link")

	_, err = f.svc.VerifyEmail(ctx, "bogus", meta)
	assert.ErrorIs(t, err, ErrInvalidToken)

	res, err = f.svc.VerifyEmail(ctx, f.mail.lastToken(t), meta)
	require.NoError(t, err)
	assert.True(t, res.User.EmailVerified)
	assert.NotEmpty(t, res.Token)

	_, err = f.svc.SignInEmail(ctx, SignInInput{Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	assert.NoError(t, err)

	err = f.svc.SendVerificationEmail(ctx, "ada@example.com", "")
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestSendVerificationEmail_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.svc.SendVerificationEmail(context.Background(), "ghost@example.com", ""))
	assert.Empty(t, f.mail.sent)
}

func TestVerifyEmail_SessionTokenRejected(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.EmailVerification.SendOnSignUp = false })
	ctx := context.Background()

	res, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)

	_, err = f.svc.VerifyEmail(ctx, res.Token, meta)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestSocial_ProviderNotEnabled(t *testing.T) {
	f := newFixture(t, nil)

	assert.Empty(t, f.svc.EnabledProviders())
	_, _, err := f.svc.SocialSignIn(user.ProviderGoogle, "/")
	assert.ErrorIs(t, err, ErrProviderNotEnabled)
}

func TestSocial_ConfiguredProvidersAreEnabled(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.SocialProviders.Google = ProviderCredentials{ClientID: "id", ClientSecret: "secret"}
		o.SocialProviders.GitHub = ProviderCredentials{ClientID: "id"}
	})

	assert.Equal(t, []string{user.ProviderGoogle}, f.svc.EnabledProviders())

	authURL, state, err := f.svc.SocialSignIn(user.ProviderGoogle, "/")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "accounts.google.com")
	assert.Contains(t, authURL, url.QueryEscape("http://localhost:3000/api/auth/callback/google"))
}

func TestSocial_CreatesVerifiedUser(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.RegisterProvider(&fakeProvider{name: user.ProviderGitHub, profile: Profile{
		ID: "42", Email: "octo@example.com", Name: "Octo", Image: "https://avatars.example.com/42",
	}})
	ctx := context.Background()

	authURL, state, err := f.svc.SocialSignIn(user.ProviderGitHub, "/welcome")
	require.NoError(t, err)

	res, err := f.svc.SocialCallback(ctx, user.ProviderGitHub, "code", stateFromURL(t, authURL), state, meta)
	require.NoError(t, err)
	assert.Equal(t, "/welcome", res.RedirectURL)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, "42", res.User.GitHubID)
	assert.Equal(t, "https://avatars.example.com/42", res.User.Image)
	assert.NotEmpty(t, res.Token)

	// second login finds the same account by provider id
	res2, err := f.svc.SocialCallback(ctx, user.ProviderGitHub, "code", stateFromURL(t, authURL), state, meta)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, res2.User.ID)
}

func TestSocial_LinksByEmail(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.EmailVerification.SendOnSignUp = false })
	ctx := context.Background()

	signedUp, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)

	f.svc.RegisterProvider(&fakeProvider{name: user.ProviderGoogle, profile: Profile{
		ID: "g-1", Email: "ada@example.com", Name: "Ada L", Image: "https://img.example.com/ada", EmailVerified: true,
	}})

	authURL, state, err := f.svc.SocialSignIn(user.ProviderGoogle, "")
	require.NoError(t, err)

	res, err := f.svc.SocialCallback(ctx, user.ProviderGoogle, "code", stateFromURL(t, authURL), state, meta)
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, res.User.ID)
	assert.Equal(t, "g-1", res.User.GoogleID)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, "https://img.example.com/ada", res.User.Image)
	assert.Equal(t, "/", res.RedirectURL)
}

func TestSocial_RefusesLinkOnUnverifiedProviderEmail(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.EmailVerification.SendOnSignUp = false })
	ctx := context.Background()

	signedUp, err := f.svc.SignUpEmail(ctx, SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "Passw0rd!"}, meta)
	require.NoError(t, err)
	sessionsBefore := f.sessions.Len()

	f.svc.RegisterProvider(&fakeProvider{name: user.ProviderGitHub, profile: Profile{
		ID: "gh-other", Email: "ada@example.com", EmailVerified: false,
	}})

	authURL, state, err := f.svc.SocialSignIn(user.ProviderGitHub, "")
	require.NoError(t, err)

	res, err := f.svc.SocialCallback(ctx, user.ProviderGitHub, "code", stateFromURL(t, authURL), state, meta)
	assert.ErrorIs(t, err, ErrAccountNotLinked)
	assert.Empty(t, res.Token)
	assert.Equal(t, sessionsBefore, f.sessions.Len())

	stored, err := f.users.GetByID(ctx, signedUp.User.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GitHubID)
	assert.False(t, stored.EmailVerified)
}

func TestSocial_StateMismatch(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.RegisterProvider(&fakeProvider{name: user.ProviderGoogle, profile: Profile{ID: "1", Email: "a@example.com"}})
	f.svc.RegisterProvider(&fakeProvider{name: user.ProviderGitHub, profile: Profile{ID: "1", Email: "a@example.com"}})
	ctx := context.Background()

	authURL, state, err := f.svc.SocialSignIn(user.ProviderGoogle, "/")
	require.NoError(t, err)

	_, err = f.svc.SocialCallback(ctx, user.ProviderGoogle, "code", "other-state", state, meta)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.SocialCallback(ctx, user.ProviderGitHub, "code", stateFromURL(t, authURL), state, meta)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.SocialCallback(ctx, user.ProviderGoogle, "code", stateFromURL(t, authURL), "", meta)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSafeRedirect(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.TrustedOrigins = []string{"https://app.example.com/"} })

	cases := map[string]string{
		"":                              "/",
		"/dashboard":                    "/dashboard",
		"//evil.example.com":            "/",
		"/\\evil.example.com":           "/",
		"http://localhost:3000/profile": "http://localhost:3000/profile",
		"https://app.example.com/x":     "https://app.example.com/x",
		"https://evil.example.com/x":    "/",
		"javascript:alert(1)":           "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, f.svc.SafeRedirect(in), "input %q", in)
	}
}
