package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, name, email, password_hash, role, status, image,
	COALESCE(google_id, ''), COALESCE(github_id, ''), email_verified, created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func IsUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func (r *UsersRepo) Create(ctx context.Context, p user.CreateParams) (user.User, error) {
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

	err := r.prom.ObserveDB("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, name, email, password_hash, role, status, image, google_id, github_id, email_verified, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''),$10,$11,$12)`,
			u.ID, u.Name, u.Email, u.Password, u.Role, u.Status, u.Image, u.GoogleID, u.GitHubID, u.EmailVerified, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return user.User{}, mapWriteErr(err)
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.queryOne(ctx, "users.get_by_id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.queryOne(ctx, "users.get_by_email", `SELECT `+userColumns+` FROM users WHERE email = $1`, user.NormalizeEmail(email))
}

func (r *UsersRepo) GetByProviderID(ctx context.Context, provider, externalID string) (user.User, error) {
	column, err := providerColumn(provider)
	if err != nil {
		return user.User{}, err
	}
	if externalID == "" {
		return user.User{}, user.ErrUserNotFound
	}
	return r.queryOne(ctx, "users.get_by_provider", `SELECT `+userColumns+` FROM users WHERE `+column+` = $1`, externalID)
}

func (r *UsersRepo) LinkProvider(ctx context.Context, id, provider, externalID, image string) error {
	column, err := providerColumn(provider)
	if err != nil {
		return err
	}

	return r.prom.ObserveDB("users.link_provider", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users
			SET `+column+` = $2,
				image = CASE WHEN image = '' THEN $3 ELSE image END,
				updated_at = NOW()
			WHERE id = $1`,
			id, externalID, image,
		)
		if err != nil {
			return mapWriteErr(err)
		}
		if tag.RowsAffected() == 0 {
			return user.ErrUserNotFound
		}
		return nil
	})
}

func (r *UsersRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.prom.ObserveDB("users.mark_verified", func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`,
			id,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return user.ErrUserNotFound
		}
		return nil
	})
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *UsersRepo) queryOne(ctx context.Context, op, sql string, arg any) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(op, func() error {
		return r.pool.QueryRow(ctx, sql, arg).Scan(
			&u.ID,
			&u.Name,
			&u.Email,
			&u.Password,
			&u.Role,
			&u.Status,
			&u.Image,
			&u.GoogleID,
			&u.GitHubID,
			&u.EmailVerified,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrUserNotFound
		}

		return user.User{}, err
	}
	return u, nil
}

// providerColumn maps a provider to its column; only these two names are ever
// concatenated into SQL.
func providerColumn(provider string) (string, error) {
	switch provider {
	case user.ProviderGoogle:
		return "google_id", nil
	case user.ProviderGitHub:
		return "github_id", nil
	default:
		return "", user.ErrUnknownProvider
	}
}

func mapWriteErr(err error) error {
	constraint, ok := IsUniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case "users_google_id_key", "users_github_id_key":
		return user.ErrProviderIDTaken
	default:
		return user.ErrEmailTaken
	}
}
