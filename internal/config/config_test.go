package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("BASE_URL", "")
	t.Setenv("SESSION_TTL_HOURS", "")
	t.Setenv("GATE_PUBLIC_BYPASS", "")
	t.Setenv("OPS_PORT", "")
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()

	if cfg.Env != "dev" {
		t.Fatalf("expected env dev, got %q", cfg.Env)
	}
	if cfg.Port != 3000 {
		t.Fatalf("expected port 3000, got %d", cfg.Port)
	}
	if cfg.StoreDriver != "mongo" {
		t.Fatalf("expected mongo store driver, got %q", cfg.StoreDriver)
	}
	if cfg.BaseURL != "http://localhost:3000" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.GatePublicBypass {
		t.Fatalf("public bypass must be off by default")
	}
	if cfg.OpsPort != 9090 {
		t.Fatalf("expected ops port 9090, got %d", cfg.OpsPort)
	}
	if cfg.AuthSecret != DefaultAuthSecret {
		t.Fatalf("expected the dev secret, got %q", cfg.AuthSecret)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev defaults should validate, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "8080")
	t.Setenv("BASE_URL", "https://auth.example.com/")
	t.Setenv("REQUIRE_EMAIL_VERIFICATION", "true")
	t.Setenv("TRUSTED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	if !cfg.IsProd() {
		t.Fatalf("expected prod")
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.BaseURL != "https://auth.example.com" {
		t.Fatalf("trailing slash should be trimmed, got %q", cfg.BaseURL)
	}
	if !cfg.RequireEmailVerification {
		t.Fatalf("expected email verification to be required")
	}
	if len(cfg.TrustedOrigins) != 2 || cfg.TrustedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected trusted origins %#v", cfg.TrustedOrigins)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.RedisDB)
	}
}

func TestValidate_ProdRequiresAuthSecret(t *testing.T) {
	cases := []struct {
		name    string
		env     string
		secret  string
		wantErr bool
	}{
		{"prod default secret", "prod", DefaultAuthSecret, true},
		{"prod empty secret", "prod", "", true},
		{"prod blank secret", "prod", "   ", true},
		{"prod real secret", "prod", "0f3c9a7e5b21d84c", false},
		{"dev default secret", "dev", DefaultAuthSecret, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Env: tc.env, Port: 3000, OpsPort: 9090, AuthSecret: tc.secret}

			err := cfg.Validate()
			if tc.wantErr && !errors.Is(err, ErrInsecureAuthSecret) {
				t.Fatalf("expected ErrInsecureAuthSecret, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoad_ProdWithoutSecretFailsValidation(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("AUTH_SECRET", "")

	if err := Load().Validate(); !errors.Is(err, ErrInsecureAuthSecret) {
		t.Fatalf("expected ErrInsecureAuthSecret, got %v", err)
	}
}

func TestValidate_OpsPortMustDiffer(t *testing.T) {
	cfg := Config{Env: "dev", Port: 3000, OpsPort: 3000, AuthSecret: DefaultAuthSecret}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when both listeners share a port")
	}
}
