package accesskit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are the JWT claims read by BearerTokenExtractor. The
// subject is the principal; roles are its directly granted authorities.
type IdentityClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// errEmptySecret is returned when a token would be signed or verified
// with an empty HMAC key.
var errEmptySecret = NewError(ErrInvalidConfig, "JWT secret is empty")

// BearerTokenExtractor reads an HMAC-signed JWT from the Authorization
// header. A request without the header is anonymous; a malformed, expired
// or wrongly signed token is an error. With an empty secret every token
// is rejected.
func BearerTokenExtractor(secret []byte) IdentityExtractor {
	return func(r *http.Request, remoteAddr string) (Identity, error) {
		header := r.Header.Get("Authorization")
		if header == "" {
			return Anonymous(remoteAddr), nil
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return Identity{}, errors.New("authorization header is not a bearer token")
		}

		claims, err := ParseIdentityToken(secret, strings.TrimSpace(token))
		if err != nil {
			return Identity{}, err
		}
		return NewIdentity(claims.Subject, remoteAddr, claims.Roles...), nil
	}
}

// ParseIdentityToken verifies token with secret and returns its claims.
func ParseIdentityToken(secret []byte, token string) (*IdentityClaims, error) {
	if len(secret) == 0 {
		return nil, errEmptySecret
	}
	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("invalid token: missing subject")
	}
	return claims, nil
}

// IssueIdentityToken signs an HS256 token for principal with roles.
// A ttl of 0 issues a token without expiry.
func IssueIdentityToken(secret []byte, principal string, roles []string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errEmptySecret
	}
	now := time.Now()
	claims := IdentityClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  principal,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
