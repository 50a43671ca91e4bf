package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTSourceSignsAndCaches(t *testing.T) {
	src, err := NewJWTSource("s3cret", "dashboard", 10*time.Minute)
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	first, err := src.Token(context.Background())
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(first, claims, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil },
		jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims["sub"])

	now = now.Add(5 * time.Minute)
	again, _ := src.Token(context.Background())
	assert.Equal(t, first, again)

	now = now.Add(5 * time.Minute)
	renewed, _ := src.Token(context.Background())
	assert.NotEqual(t, first, renewed)
}

func TestSourceSelection(t *testing.T) {
	ts, err := Source("static", "", "", 0)
	require.NoError(t, err)
	tok, _ := ts.Token(context.Background())
	assert.Equal(t, "static", tok)

	ts, err = Source("static", "secret", "", 0)
	require.NoError(t, err)
	assert.IsType(t, &JWTSource{}, ts)

	ts, err = Source("", "", "", 0)
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = NewJWTSource("", "x", time.Minute)
	assert.ErrorIs(t, err, ErrNoSecret)
}
