package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSecret = errors.New("jwt secret is empty")

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken presents a fixed bearer token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// JWTSource mints HS256 service tokens and reuses each one until it is
// close to expiry.
type JWTSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewJWTSource(secret, subject string, ttl time.Duration) (*JWTSource, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if subject == "" {
		subject = "trip-monitor"
	}
	return &JWTSource{secret: []byte(secret), subject: subject, ttl: ttl, now: time.Now}, nil
}

func (s *JWTSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiry.Add(-s.ttl/10)) {
		return s.token, nil
	}
	exp := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  s.subject,
		"role": "monitor",
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.token, s.expiry = signed, exp
	return signed, nil
}

// Source picks a token source from configuration: a JWT secret wins over a
// static token; with neither, requests go out unauthenticated.
func Source(staticToken, secret, subject string, ttl time.Duration) (TokenSource, error) {
	if secret != "" {
		return NewJWTSource(secret, subject, ttl)
	}
	if staticToken != "" {
		return StaticToken(staticToken), nil
	}
	return nil, nil
}
