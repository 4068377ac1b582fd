package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/geocoder89/authportal/internal/domain/user"
	"github.com/geocoder89/authportal/internal/observability"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultUsersCollection = "users"

type UsersRepo struct {
	coll *mongo.Collection
	prom *observability.Prom
}

func NewUsersRepo(db *mongo.Database, collectionName string, prom *observability.Prom) *UsersRepo {
	if collectionName == "" {
		collectionName = DefaultUsersCollection
	}
	return &UsersRepo{
		coll: db.Collection(collectionName),
		prom: prom,
	}
}

// EnsureIndexes creates the unique email index and sparse unique indexes on
// the provider ids.
func (r *UsersRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys:    bson.D{{Key: "googleId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_google_id"),
		},
		{
			Keys:    bson.D{{Key: "githubId", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_github_id"),
		},
	})
	return err
}

func (r *UsersRepo) Create(ctx context.Context, p user.CreateParams) (user.User, error) {
	p = p.WithDefaults()
	now := time.Now().UTC().Truncate(time.Millisecond) // mongo stores millisecond precision

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
		_, err := r.coll.InsertOne(ctx, u)
		return err
	})
	if err != nil {
		return user.User{}, mapWriteErr(err)
	}

	return u, nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	return r.findOne(ctx, "users.get_by_id", bson.M{"_id": id})
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	return r.findOne(ctx, "users.get_by_email", bson.M{"email": user.NormalizeEmail(email)})
}

func (r *UsersRepo) GetByProviderID(ctx context.Context, provider, externalID string) (user.User, error) {
	field, err := providerField(provider)
	if err != nil {
		return user.User{}, err
	}
	if externalID == "" {
		return user.User{}, user.ErrUserNotFound
	}
	return r.findOne(ctx, "users.get_by_provider", bson.M{field: externalID})
}

func (r *UsersRepo) LinkProvider(ctx context.Context, id, provider, externalID, image string) error {
	field, err := providerField(provider)
	if err != nil {
		return err
	}

	return r.prom.ObserveDB("users.link_provider", func() error {
		res, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{field: externalID, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return mapWriteErr(err)
		}
		if res.MatchedCount == 0 {
			return user.ErrUserNotFound
		}

		if image == "" {
			return nil
		}
		// only fill the avatar when the user has none
		_, err = r.coll.UpdateOne(ctx,
			bson.M{"_id": id, "$or": bson.A{bson.M{"image": ""}, bson.M{"image": bson.M{"$exists": false}}}},
			bson.M{"$set": bson.M{"image": image}},
		)
		return err
	})
}

func (r *UsersRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return r.prom.ObserveDB("users.mark_verified", func() error {
		res, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M{"emailVerified": true, "updatedAt": time.Now().UTC()}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return user.ErrUserNotFound
		}
		return nil
	})
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}

func (r *UsersRepo) findOne(ctx context.Context, op string, filter bson.M) (user.User, error) {
	var u user.User

	err := r.prom.ObserveDB(op, func() error {
		return r.coll.FindOne(ctx, filter).Decode(&u)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.User{}, user.ErrUserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func providerField(provider string) (string, error) {
	switch provider {
	case user.ProviderGoogle:
		return "googleId", nil
	case user.ProviderGitHub:
		return "githubId", nil
	default:
		return "", user.ErrUnknownProvider
	}
}

func mapWriteErr(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "uniq_google_id") || strings.Contains(msg, "uniq_github_id") {
		return user.ErrProviderIDTaken
	}
	return user.ErrEmailTaken
}
