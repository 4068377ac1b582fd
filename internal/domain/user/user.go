package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	DefaultRole   = "user"
	DefaultStatus = "active"
)

// Providers a user can be linked to.
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already in use")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrProviderIDTaken = errors.New("provider account already linked")
)

type User struct {
	ID            string    `json:"id" bson:"_id"`
	Name          string    `json:"name" bson:"name"`
	Email         string    `json:"email" bson:"email"`
	Password      string    `json:"-" bson:"password"` // bcrypt hash, never exposed in JSON
	Role          string    `json:"role" bson:"role"`
	Status        string    `json:"status" bson:"status"`
	Image         string    `json:"image" bson:"image"`
	GoogleID      string    `json:"googleId,omitempty" bson:"googleId,omitempty"`
	GitHubID      string    `json:"githubId,omitempty" bson:"githubId,omitempty"`
	EmailVerified bool      `json:"emailVerified" bson:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ProviderID returns the external account id stored for provider.
func (u User) ProviderID(provider string) string {
	switch provider {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	default:
		return ""
	}
}

type CreateParams struct {
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	Status        string
	Image         string
	GoogleID      string
	GitHubID      string
	EmailVerified bool
}

// Store is implemented by every persistence backend (mongo, postgres, memory).
type Store interface {
	Create(ctx context.Context, p CreateParams) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByProviderID(ctx context.Context, provider, externalID string) (User, error)
	LinkProvider(ctx context.Context, id, provider, externalID, image string) error
	MarkEmailVerified(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// WithDefaults fills role and status the way signup does.
func (p CreateParams) WithDefaults() CreateParams {
	p.Email = NormalizeEmail(p.Email)
	p.Name = strings.TrimSpace(p.Name)
	if p.Role == "" {
		p.Role = DefaultRole
	}
	if p.Status == "" {
		p.Status = DefaultStatus
	}
	return p
}

func ValidProvider(provider string) bool {
	return provider == ProviderGoogle || provider == ProviderGitHub
}
