// Package auth provides token issuance and verification for the sync
// endpoints. Clients present the per-user credential in the x-auth-token
// header; the token subject is the owner identity of every document the
// caller submits or reads.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/maizeguard/leafscan-go/internal/errors"
)

// HeaderName is the request header carrying the credential.
const HeaderName = "x-auth-token"

// ContextOwnerKey is the echo context key holding the verified owner identity.
const ContextOwnerKey = "ownerID"

// Service issues and verifies HMAC-signed tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService creates a token service. An empty secret gets replaced by a
// random one, which invalidates tokens across restarts; production deployments
// configure a stable secret.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{secret: key, ttl: ttl}, nil
}

// IssueToken creates a signed token whose subject is the owner identity.
func (s *Service) IssueToken(ownerID string) (string, error) {
	if ownerID == "" {
		return "", errors.ValidationError("owner id must not be empty")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token string and returns the owner identity.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
	)
	if err != nil {
		return "", errors.New(fmt.Errorf("verifying token: %w", err)).
			Component("auth").
			Category(errors.CategoryAuth).
			Build()
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New(errors.NewStd("token has no subject")).
			Component("auth").
			Category(errors.CategoryAuth).
			Build()
	}
	return claims.Subject, nil
}

// Middleware returns an echo middleware that rejects requests without a valid
// token and stores the owner identity on the context.
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := c.Request().Header.Get(HeaderName)
			if tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "No token, authorization denied")
			}

			ownerID, err := s.VerifyToken(tokenString)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token is not valid")
			}

			c.Set(ContextOwnerKey, ownerID)
			return next(c)
		}
	}
}

// OwnerID extracts the verified owner identity set by the middleware.
func OwnerID(c echo.Context) string {
	if v, ok := c.Get(ContextOwnerKey).(string); ok {
		return v
	}
	return ""
}

// GenerateSecret returns a fresh random secret suitable for configuration.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
