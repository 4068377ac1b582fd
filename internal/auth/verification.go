package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/notifications"
)

// VerificationURL builds the link mailed to the user.
func (s *Service) VerificationURL(token, callbackURL string) string {
	q := url.Values{}
	q.Set("token", token)
	if callbackURL != "" {
		q.Set("callbackURL", s.SafeRedirect(callbackURL))
	}
	return s.opts.BaseURL + "/api/auth/verify-email?" + q.Encode()
}

func (s *Service) sendVerification(ctx context.Context, u user.User, callbackURL string) error {
	token, err := s.tokens.IssueEmailVerification(u.ID, u.Email, s.opts.EmailVerification.ExpiresIn)
	if err != nil {
		return fmt.Errorf("sign verification token: %w", err)
	}

	return s.opts.EmailVerification.Sender.SendVerificationEmail(ctx, notifications.VerificationEmail{
		To:     u.Email,
		Name:   u.Name,
		URL:    s.VerificationURL(token, callbackURL),
		UserID: u.ID,
	})
}

// SendVerificationEmail mails a fresh verification link to an existing,
// unverified account.
func (s *Service) SendVerificationEmail(ctx context.Context, email, callbackURL string) (err error) {
	defer func() { s.prom.AuthEvent("send_verification_email", err) }()

	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			// same answer as success so the endpoint can't be used to enumerate accounts
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}

	return s.sendVerification(ctx, u, callbackURL)
}

// VerifyEmail consumes a verification token. When auto sign-in after
// verification is on, the result carries a new session.
func (s *Service) VerifyEmail(ctx context.Context, token string, meta Meta) (_ Result, err error) {
	defer func() { s.prom.AuthEvent("verify_email", err) }()

	claims, err := s.tokens.VerifyEmailVerification(token)
	if err != nil {
		return Result{}, ErrInvalidToken
	}

	u, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return Result{}, ErrInvalidToken
		}
		return Result{}, fmt.Errorf("load user: %w", err)
	}

	// a token minted before an email change must not verify the new address
	if u.Email != claims.Email {
		return Result{}, ErrInvalidToken
	}

	if !u.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, u.ID); err != nil {
			return Result{}, fmt.Errorf("mark verified: %w", err)
		}
		u.EmailVerified = true
		s.log.InfoContext(ctx, "email verified", "user_id", u.ID)
	}

	if !s.opts.EmailVerification.AutoSignInAfterVerification {
		return Result{User: u}, nil
	}
	return s.signIn(ctx, u, meta, "")
}
