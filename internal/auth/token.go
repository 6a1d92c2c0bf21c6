package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier verifies bearer tokens and extracts the authenticated user id.
type TokenVerifier struct {
	key       []byte
	algorithm string
}

// NewTokenVerifier constructs a verifier for the configured signing key and algorithm.
func NewTokenVerifier(key, algorithm string) *TokenVerifier {
	return &TokenVerifier{key: []byte(key), algorithm: algorithm}
}

// VerifyToken validates the JWT and returns the user id stored in its payload.
func (v *TokenVerifier) VerifyToken(token string) (int, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	// JSON numbers decode as float64.
	userID, ok := claims["user_id"].(float64)
	if !ok || userID == 0 {
		return 0, ErrInvalidToken
	}
	return int(userID), nil
}
