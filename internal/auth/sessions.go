package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/session"
)

// signIn stores a fresh session record and signs its cookie value.
func (s *Service) signIn(ctx context.Context, u user.User, meta Meta, redirect string) (Result, error) {
	rec := session.NewRecord(u.ID, s.opts.Session.ExpiresIn, meta.IPAddress, meta.UserAgent)

	if err := s.sessions.Put(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("store session: %w", err)
	}

	token, err := s.tokens.IssueSession(rec, u.Email, u.Role)
	if err != nil {
		return Result{}, fmt.Errorf("sign session: %w", err)
	}

	s.log.InfoContext(ctx, "session created", "user_id", u.ID, "session_id", rec.ID)

	return Result{
		User:        u,
		Token:       token,
		ExpiresAt:   rec.ExpiresAt,
		RedirectURL: redirect,
	}, nil
}

// SignOut revokes the session behind token. Unknown, expired and malformed
// tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) (err error) {
	defer func() { s.prom.AuthEvent("sign_out", err) }()

	if token == "" {
		return nil
	}

	claims, err := s.tokens.VerifySession(token)
	if err != nil {
		return nil
	}

	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.log.InfoContext(ctx, "session revoked", "user_id", claims.UserID(), "session_id", claims.SessionID)
	return nil
}

// GetSession resolves a cookie value to its live session and user. Unlike
// the route gate it consults the session store, so revoked sessions fail.
func (s *Service) GetSession(ctx context.Context, token string) (SessionView, error) {
	if token == "" {
		return SessionView{}, ErrSessionNotFound
	}

	claims, err := s.tokens.VerifySession(token)
	if err != nil {
		return SessionView{}, ErrInvalidToken
	}

	rec, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return SessionView{}, ErrSessionNotFound
		}
		return SessionView{}, fmt.Errorf("load session: %w", err)
	}
	if rec.Expired(s.now()) || rec.UserID != claims.UserID() {
		return SessionView{}, ErrSessionNotFound
	}

	u, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return SessionView{}, ErrSessionNotFound
		}
		return SessionView{}, fmt.Errorf("load user: %w", err)
	}

	return SessionView{Session: rec, User: u}, nil
}
