// Package auth authenticates requests with HMAC-signed JWTs and exposes the
// caller identity to handlers. The engine trusts the token's tenant and user
// claims; it performs no role checks of its own.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"hrplatform/backend/pkg/apperr"
)

const identityKey = "auth.identity"

// Identity is the authenticated caller extracted from the bearer token.
type Identity struct {
	TenantID string
	UserID   string
	Role     string
}

// Claims is the JWT payload the platform issues.
type Claims struct {
	TenantID string `json:"tid"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// SignToken issues a token for the given identity, valid for ttl.
func SignToken(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: id.TenantID,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies a token string and returns the identity it carries.
func ParseToken(secret []byte, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.Unauthorized("invalid or expired token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.TenantID == "" || claims.Subject == "" {
		return nil, apperr.Unauthorized("token is missing required claims")
	}
	return &Identity{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		Role:     claims.Role,
	}, nil
}

// Middleware returns an Echo middleware that requires a valid bearer token
// and stores the caller identity in the request context.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return apperr.Unauthorized("missing bearer token")
			}
			id, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return err
			}
			c.Set(identityKey, id)
			return next(c)
		}
	}
}

// FromContext returns the identity the middleware stored, or nil when the
// request was not authenticated.
func FromContext(c echo.Context) *Identity {
	id, _ := c.Get(identityKey).(*Identity)
	return id
}
