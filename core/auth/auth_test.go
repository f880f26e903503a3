package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func TestAnonymousAlwaysSucceeds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	id, err := Anonymous{}.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "anonymous", id)
}

func TestJWTProviderAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p := NewJWTProvider(func(t *jwt.Token) (interface{}, error) { return secret, nil })
	r := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	id, err := p.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "alice", id)
}

func TestJWTProviderRejectsMissingHeader(t *testing.T) {
	p := NewJWTProvider(func(t *jwt.Token) (interface{}, error) { return []byte("x"), nil })
	r := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	_, err := p.Authenticate(r)
	require.Error(t, err)
}

func TestJWTProviderRejectsBadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := token.SignedString([]byte("right-secret"))
	require.NoError(t, err)

	p := NewJWTProvider(func(t *jwt.Token) (interface{}, error) { return []byte("wrong-secret"), nil })
	r := httptest.NewRequest(http.MethodGet, "/taxii/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)

	_, err = p.Authenticate(r)
	require.Error(t, err)
}
