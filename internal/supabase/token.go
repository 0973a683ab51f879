package supabase

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"provisioner/pkg/platform/sentinel"
)

// Claims are the access token claims issued by the auth service.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 access tokens locally before any network call.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier returns nil when no secret is configured.
func NewTokenVerifier(secret string) *TokenVerifier {
	if secret == "" {
		return nil
	}
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, returning its claims.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.Join(sentinel.ErrUnauthorized, errors.New("token has expired"))
		}
		return nil, errors.Join(sentinel.ErrUnauthorized, errors.New("invalid token"))
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, errors.Join(sentinel.ErrUnauthorized, errors.New("invalid token claims"))
	}
	return claims, nil
}
