package db

import (
	"context"
	"errors"

	"github.com/geocoder89/authportal/internal/config"
	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/security"
)

// EnsureAdminUser creates the configured admin account once. Nothing happens
// when ADMIN_EMAIL or ADMIN_PASSWORD is unset or the account already exists.
func EnsureAdminUser(ctx context.Context, users user.Store, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := users.GetByEmail(ctx, cfg.AdminEmail)

	if err == nil {
		return nil
	}

	if !errors.Is(err, user.ErrUserNotFound) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	_, err = users.Create(ctx, user.CreateParams{
		Name:          cfg.AdminName,
		Email:         cfg.AdminEmail,
		PasswordHash:  hash,
		Role:          cfg.AdminRole,
		EmailVerified: true,
	})

	// a concurrent instance may have won the race
	if errors.Is(err, user.ErrEmailTaken) {
		return nil
	}
	return err
}
