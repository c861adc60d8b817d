// Package auth resolves request identities from HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller as seen by the domain: the email when the token
// carries one, else the subject.
type Identity struct {
	ID   string
	Role string
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject. It backs the development token endpoint.
func (a *Authenticator) Issue(subject string, email string, role string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, ErrMissingSecret
	}
	now := a.now().UTC()
	expiresAt := now.Add(a.ttl)
	claims := Claims{
		Email: strings.TrimSpace(email),
		Role:  strings.TrimSpace(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(subject),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (a *Authenticator) Resolve(token string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, ErrMissingSecret
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := strings.TrimSpace(claims.Email)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return Identity{ID: id, Role: claims.Role}, nil
}
