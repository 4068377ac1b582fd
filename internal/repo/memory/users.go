package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/google/uuid"
)

type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // id -> user
	byEmail map[string]string    // email -> id
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, p user.CreateParams) (user.User, error) {
	p = p.WithDefaults()
	now := time.Now().UTC()

	u := user.User{
		ID:            uuid.NewString(),
		Name:          p.Name,
		Email:         p.Email,
		Password:      p.PasswordHash,
		Role:          p.Role,
		Status:        p.Status,
		Image:         p.Image,
		GoogleID:      p.GoogleID,
		GitHubID:      p.GitHubID,
		EmailVerified: p.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[u.Email]; taken {
		return user.User{}, user.ErrEmailTaken
	}
	for _, existing := range r.items {
		if (u.GoogleID != "" && existing.GoogleID == u.GoogleID) || (u.GitHubID != "" && existing.GitHubID == u.GitHubID) {
			return user.User{}, user.ErrProviderIDTaken
		}
	}

	r.items[u.ID] = u
	r.byEmail[u.Email] = u.ID

	return u, nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return r.items[id], nil
}

func (r *UsersRepo) GetByProviderID(_ context.Context, provider, externalID string) (user.User, error) {
	if !user.ValidProvider(provider) {
		return user.User{}, user.ErrUnknownProvider
	}
	if externalID == "" {
		return user.User{}, user.ErrUserNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.ProviderID(provider) == externalID {
			return u, nil
		}
	}
	return user.User{}, user.ErrUserNotFound
}

func (r *UsersRepo) LinkProvider(_ context.Context, id, provider, externalID, image string) error {
	if !user.ValidProvider(provider) {
		return user.ErrUnknownProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrUserNotFound
	}

	for otherID, other := range r.items {
		if otherID != id && other.ProviderID(provider) == externalID {
			return user.ErrProviderIDTaken
		}
	}

	switch provider {
	case user.ProviderGoogle:
		u.GoogleID = externalID
	case user.ProviderGitHub:
		u.GitHubID = externalID
	}
	if u.Image == "" {
		u.Image = image
	}
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *UsersRepo) MarkEmailVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrUserNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *UsersRepo) Ping(context.Context) error { return nil }
