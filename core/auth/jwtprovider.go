package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"net/http"
)

// JWTProvider is a concrete Provider that authenticates bearer JWTs. It is
// one pluggable implementation of the Provider contract, not a required
// dependency of the core.
type JWTProvider struct {
	KeyFunc jwt.Keyfunc
}

// NewJWTProvider builds a JWTProvider validating tokens with keyFunc.
func NewJWTProvider(keyFunc jwt.Keyfunc) *JWTProvider {
	return &JWTProvider{KeyFunc: keyFunc}
}

// Authenticate extracts a bearer token from the Authorization header,
// validates it, and returns its "sub" claim as the caller identity.
func (p *JWTProvider) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", MissingCredentials("no bearer token present")
	}
	raw := strings.TrimPrefix(header, prefix)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, p.KeyFunc)
	if err != nil || !token.Valid {
		return "", MissingCredentials("token validation failed")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", MissingCredentials("token lacks a subject claim")
	}
	return sub, nil
}
