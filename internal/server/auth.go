package server

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Claims is the bearer token payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tid,omitempty"`
	Role     string `json:"role,omitempty"`
}

// IssueToken mints an HS256 bearer token for the identity. The dev
// bootstrap and tests use it; production deployments mint tokens in
// their identity provider with the same secret.
func IssueToken(secret string, identity access.Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    "devplane",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: identity.TenantID,
		Role:     string(identity.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken validates a bearer token and rebuilds the caller identity.
func parseToken(secret, tokenString string) (access.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Denied("unexpected token signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return access.Identity{}, errors.Denied("invalid or expired token")
	}
	if claims.Subject == "" {
		return access.Identity{}, errors.Denied("token carries no subject")
	}
	return access.Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     v1.Role(claims.Role),
	}, nil
}
