package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/security"
	"github.com/google/uuid"
)

type SignUpInput struct {
	Name        string `json:"name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	Image       string `json:"image"`
	CallbackURL string `json:"callbackURL"`
}

type SignInInput struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	CallbackURL string `json:"callbackURL"`
}

// SignUpEmail creates an email and password account. A session is issued
// when auto sign-in is on and verification is not required.
func (s *Service) SignUpEmail(ctx context.Context, in SignUpInput, meta Meta) (_ Result, err error) {
	defer func() { s.prom.AuthEvent("sign_up_email", err) }()

	ep := s.opts.EmailAndPassword
	if !ep.Enabled {
		return Result{}, ErrEmailPasswordDisabled
	}
	if err := s.policy.Check(in.Password); err != nil {
		return Result{}, err
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return Result{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.Create(ctx, user.CreateParams{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Image:        in.Image,
	}.WithDefaults())
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			return Result{}, ErrEmailTaken
		}
		return Result{}, fmt.Errorf("create user: %w", err)
	}

	s.log.InfoContext(ctx, "user signed up", "user_id", u.ID)

	if s.opts.EmailVerification.SendOnSignUp || ep.RequireEmailVerification {
		if err := s.sendVerification(ctx, u, in.CallbackURL); err != nil {
			// the account exists; the user can ask for another link
			s.log.ErrorContext(ctx, "send verification email failed", "user_id", u.ID, "err", err)
		}
	}

	redirect := s.SafeRedirect(in.CallbackURL)
	if !ep.AutoSignIn || ep.RequireEmailVerification {
		return Result{User: u, RedirectURL: redirect}, nil
	}

	return s.signIn(ctx, u, meta, redirect)
}

// SignInEmail checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) SignInEmail(ctx context.Context, in SignInInput, meta Meta) (_ Result, err error) {
	defer func() { s.prom.AuthEvent("sign_in_email", err) }()

	if !s.opts.EmailAndPassword.Enabled {
		return Result{}, ErrEmailPasswordDisabled
	}

	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			// burn a comparable amount of time so lookups can't enumerate accounts
			_ = security.CheckPassword(dummyHash(), in.Password)
			return Result{}, ErrInvalidCredentials
		}
		return Result{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := security.CheckPassword(u.Password, in.Password); err != nil {
		return Result{}, ErrInvalidCredentials
	}

	if s.opts.EmailAndPassword.RequireEmailVerification && !u.EmailVerified {
		if err := s.sendVerification(ctx, u, in.CallbackURL); err != nil {
			s.log.ErrorContext(ctx, "resend verification email failed", "user_id", u.ID, "err", err)
		}
		return Result{}, ErrEmailNotVerified
	}

	return s.signIn(ctx, u, meta, s.SafeRedirect(in.CallbackURL))
}

// dummyHash is compared against when the email is unknown.
var dummyHash = sync.OnceValue(func() string {
	h, _ := security.HashPassword(uuid.NewString())
	return h
})
