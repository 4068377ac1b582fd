package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAuthSecret signs tokens when AUTH_SECRET is unset. Only dev and
// test accept it.
const DefaultAuthSecret = "dev-secret-change-me"

var ErrInsecureAuthSecret = errors.New("AUTH_SECRET must be set to a non-default value in prod")

type Config struct {
	Env     string
	Port    int
	BaseURL string

	// OpsPort serves /healthz, /readyz and /metrics apart from the app.
	OpsPort int

	// storage
	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	DBURL         string

	// auth
	AuthSecret               string
	SessionTTL               time.Duration
	RequireEmailVerification bool
	SendVerificationOnSignUp bool
	TrustedOrigins           []string
	GatePublicBypass         bool

	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string

	// mail queue + delivery
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailFrom      string

	// worker
	WorkerConcurrency int
	WorkerHealthPort  int

	OTLPEndpoint    string
	OTELSampleRatio float64

	AdminEmail    string
	AdminPassword string
	AdminName     string
	AdminRole     string
}

func Load() Config {
	// a missing .env is fine, real deployments set the environment directly
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT", 3000)

	return Config{
		Env:     env,
		Port:    port,
		BaseURL: strings.TrimRight(getEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),
		OpsPort: getEnvInt("OPS_PORT", 9090),

		StoreDriver:   getEnv("STORE_DRIVER", "mongo"),
		MongoURI:      getEnv("MONGODB_URI", "mongodb://127.0.0.1:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "authportal"),
		DBURL:         buildDBURL(),

		AuthSecret:               getEnv("AUTH_SECRET", DefaultAuthSecret),
		SessionTTL:               time.Duration(getEnvInt("SESSION_TTL_HOURS", 24*7)) * time.Hour,
		RequireEmailVerification: getEnvBool("REQUIRE_EMAIL_VERIFICATION", false),
		SendVerificationOnSignUp: getEnvBool("SEND_VERIFICATION_ON_SIGNUP", true),
		TrustedOrigins:           getEnvList("TRUSTED_ORIGINS"),
		GatePublicBypass:         getEnvBool("GATE_PUBLIC_BYPASS", false),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		MailFrom:      getEnv("MAIL_FROM", "no-reply@localhost"),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerHealthPort:  getEnvInt("WORKER_HEALTH_PORT", 8081),

		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),

		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminName:     getEnv("ADMIN_NAME", "Administrator"),
		AdminRole:     getEnv("ADMIN_ROLE", "admin"),
	}
}

func (c Config) IsProd() bool {
	return c.Env == "prod"
}

// Validate rejects settings the API must not start with.
func (c Config) Validate() error {
	if c.IsProd() && (strings.TrimSpace(c.AuthSecret) == "" || c.AuthSecret == DefaultAuthSecret) {
		return ErrInsecureAuthSecret
	}
	if c.OpsPort == c.Port {
		return fmt.Errorf("OPS_PORT must differ from PORT (%d)", c.Port)
	}
	return nil
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "authportal")
	pass := getEnv("DB_PASSWORD", "authportal")
	name := getEnv("DB_NAME", "authportal")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not an integer, using %d\n", key, v, fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not a number, using %g\n", key, v, fallback)
			return fallback
		}
		return f
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %s=%q is not a boolean, using %t\n", key, v, fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
