package db

import (
	"context"
	"testing"

	"github.com/geocoder89/authportal/internal/config"
	"github.com/geocoder89/authportal/internal/repo/memory"
	"github.com/geocoder89/authportal/internal/security"
)

func TestEnsureAdminUser(t *testing.T) {
	ctx := context.Background()
	users := memory.NewUsersRepo()

	cfg := config.Config{
		AdminEmail:    "Admin@Example.com",
		AdminPassword: "Adm1nPassw0rd",
		AdminName:     "Admin",
		AdminRole:     "admin",
	}

	if err := EnsureAdminUser(ctx, users, cfg); err != nil {
		t.Fatalf("EnsureAdminUser error: %v", err)
	}
	// second call is a no-op
	if err := EnsureAdminUser(ctx, users, cfg); err != nil {
		t.Fatalf("EnsureAdminUser second call error: %v", err)
	}

	u, err := users.GetByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if u.Role != "admin" || !u.EmailVerified {
		t.Fatalf("unexpected admin record %+v", u)
	}
	if err := security.CheckPassword(u.Password, "Adm1nPassw0rd"); err != nil {
		t.Fatalf("admin password not hashed correctly: %v", err)
	}
}

func TestEnsureAdminUser_SkipsWithoutCredentials(t *testing.T) {
	users := memory.NewUsersRepo()
	if err := EnsureAdminUser(context.Background(), users, config.Config{AdminEmail: "a@b.c"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := users.GetByEmail(context.Background(), "a@b.c"); err == nil {
		t.Fatalf("no admin should be created without a password")
	}
}
