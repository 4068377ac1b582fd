package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeSession           = "session"
	TypeEmailVerification = "email_verification"
	TypeOAuthState        = "oauth_state"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("invalid token type")
)

// Claims is shared by every token this service signs; unused fields are
// omitted from the payload.
type Claims struct {
	TokenType   string `json:"typ"`
	SessionID   string `json:"sid,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Provider    string `json:"provider,omitempty"`
	State       string `json:"state,omitempty"`
	CallbackURL string `json:"callbackURL,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

// Manager signs and verifies HS256 tokens with the service secret.
type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string) *Manager {
	return &Manager{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// IssueSession signs the cookie value for a stored session record.
func (m *Manager) IssueSession(rec Record, email, role string) (string, error) {
	claims := Claims{
		TokenType: TypeSession,
		SessionID: rec.ID,
		Email:     email,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   rec.UserID,
			IssuedAt:  jwt.NewNumericDate(rec.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	return m.sign(claims)
}

func (m *Manager) VerifySession(raw string) (*Claims, error) {
	claims, err := m.verify(raw, TypeSession)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}

// IssueEmailVerification signs the token embedded in verification links.
func (m *Manager) IssueEmailVerification(userID, email string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		TokenType: TypeEmailVerification,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return m.sign(claims)
}

func (m *Manager) VerifyEmailVerification(raw string) (*Claims, error) {
	claims, err := m.verify(raw, TypeEmailVerification)
	if err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrInvalidToken)
	}
	return claims, nil
}

// IssueOAuthState binds an OAuth state value to the provider and the
// post-login redirect; it travels in a short-lived cookie.
func (m *Manager) IssueOAuthState(provider, state, callbackURL string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		TokenType:   TypeOAuthState,
		Provider:    provider,
		State:       state,
		CallbackURL: callbackURL,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return m.sign(claims)
}

func (m *Manager) VerifyOAuthState(raw string) (*Claims, error) {
	return m.verify(raw, TypeOAuthState)
}

func (m *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) verify(raw, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
