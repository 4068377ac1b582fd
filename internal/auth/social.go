package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/google/uuid"
)

// StateTTL bounds how long a user may take at the provider's consent screen.
const StateTTL = 10 * time.Minute

// SocialSignIn starts the OAuth code flow. It returns the provider URL to
// send the browser to and the signed state to store in a cookie.
func (s *Service) SocialSignIn(provider, callbackURL string) (authURL, state string, err error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", "", ErrProviderNotEnabled
	}

	nonce := uuid.NewString()
	state, err = s.tokens.IssueOAuthState(provider, nonce, s.SafeRedirect(callbackURL), StateTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign oauth state: %w", err)
	}

	return p.AuthCodeURL(nonce), state, nil
}

// SocialCallback completes the code flow: the account is found by provider
// id, else linked by email, else created.
func (s *Service) SocialCallback(ctx context.Context, provider, code, state, stateCookie string, meta Meta) (_ Result, err error) {
	defer func() { s.prom.AuthEvent("social_callback", err) }()

	p, ok := s.providers[provider]
	if !ok {
		return Result{}, ErrProviderNotEnabled
	}

	claims, err := s.tokens.VerifyOAuthState(stateCookie)
	if err != nil || claims.Provider != provider || claims.State == "" || claims.State != state {
		return Result{}, ErrInvalidState
	}
	if code == "" {
		return Result{}, ErrInvalidState
	}

	prof, err := p.Exchange(ctx, code)
	if err != nil {
		return Result{}, err
	}

	u, err := s.resolveSocialUser(ctx, provider, prof)
	if err != nil {
		return Result{}, err
	}

	return s.signIn(ctx, u, meta, claims.CallbackURL)
}

func (s *Service) resolveSocialUser(ctx context.Context, provider string, prof Profile) (user.User, error) {
	u, err := s.users.GetByProviderID(ctx, provider, prof.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return user.User{}, fmt.Errorf("lookup by provider id: %w", err)
	}

	u, err = s.users.GetByEmail(ctx, prof.Email)
	switch {
	case err == nil:
		// linking on an unverified provider email would hand over the account
		if !prof.EmailVerified {
			s.log.WarnContext(ctx, "provider link refused", "user_id", u.ID, "provider", provider)
			return user.User{}, ErrAccountNotLinked
		}
		if err := s.users.LinkProvider(ctx, u.ID, provider, prof.ID, prof.Image); err != nil {
			return user.User{}, fmt.Errorf("link provider: %w", err)
		}
		if !u.EmailVerified {
			if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
				return user.User{}, fmt.Errorf("mark verified: %w", err)
			}
		}
		s.log.InfoContext(ctx, "provider linked", "user_id", u.ID, "provider", provider)
		return s.users.GetByID(ctx, u.ID)

	case errors.Is(err, user.ErrUserNotFound):
		params := user.CreateParams{
			Name:          prof.Name,
			Email:         prof.Email,
			Image:         prof.Image,
			EmailVerified: true,
		}
		switch provider {
		case user.ProviderGoogle:
			params.GoogleID = prof.ID
		case user.ProviderGitHub:
			params.GitHubID = prof.ID
		}
		if params.Name == "" {
			params.Name = strings.SplitN(prof.Email, "@", 2)[0]
		}

		created, err := s.users.Create(ctx, params.WithDefaults())
		if err != nil {
			return user.User{}, fmt.Errorf("create user: %w", err)
		}
		s.log.InfoContext(ctx, "user signed up via provider", "user_id", created.ID, "provider", provider)
		return created, nil

	default:
		return user.User{}, fmt.Errorf("lookup by email: %w", err)
	}
}

// SafeRedirect returns target when it is a local path or points at the base
// URL or a trusted origin, and "/" otherwise.
func (s *Service) SafeRedirect(target string) string {
	if target == "" {
		return "/"
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}

	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "/"
	}
	origin := u.Scheme + "://" + u.Host

	if base, err := url.Parse(s.opts.BaseURL); err == nil && origin == base.Scheme+"://"+base.Host {
		return target
	}
	for _, o := range s.opts.TrustedOrigins {
		if strings.TrimRight(o, "/") == origin {
			return target
		}
	}
	return "/"
}
