// Package auth issues and verifies the JWTs that identify users on
// protected routes.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quizfi/aptquiz/internal/errors"
)

const defaultTokenTTL = 24 * time.Hour

type Config struct {
	// Secret signs tokens with HS256.
	Secret string
	// TokenTTL is how long issued tokens stay valid.
	TokenTTL time.Duration
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(c Config) (*Service, error) {
	if c.Secret == "" {
		return nil, fmt.Errorf("auth: signing secret is required")
	}

	ttl := c.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}

	return &Service{
		secret: []byte(c.Secret),
		ttl:    ttl,
	}, nil
}

type claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Issue returns a signed token identifying the user.
func (s *Service) Issue(userID int64) (string, error) {
	now := time.Now()

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	return t.SignedString(s.secret)
}

// Verify parses the token and returns the user id it identifies.
func (s *Service) Verify(token string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"),
			errors.WithCause(err))
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.UserID == 0 {
		return 0, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid token"))
	}

	return c.UserID, nil
}
