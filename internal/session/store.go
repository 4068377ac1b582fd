package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Record is the server-side half of a session; the cookie only carries its id.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

func NewRecord(userID string, ttl time.Duration, ip, userAgent string) Record {
	now := time.Now().UTC()
	return Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IPAddress: ip,
		UserAgent: userAgent,
	}
}

func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
