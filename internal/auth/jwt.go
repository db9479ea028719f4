// Package auth - jwt.go handles verification (and, for tooling, creation) of the HS256 session
// tokens issued by the shop's login service. Tokens carry the caller's role and home tenant;
// the home tenant in a verified token is the only tenant shopdesk trusts for the caller.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shopdesk/shopdesk/internal/access"
)

const jwtIssuer = "shopdesk"

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure
type Claims struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	HomeTenantID string `json:"home_tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the caller identity. Unknown roles
// are rejected.
func (c *Claims) Principal() (access.Principal, error) {
	role := access.Role(c.Role)
	if !role.IsValid() {
		return access.Principal{}, fmt.Errorf("unknown role %q", c.Role)
	}
	if c.UserID == "" {
		return access.Principal{}, errors.New("token has no user id")
	}
	return access.Principal{ID: c.UserID, Role: role, HomeTenantID: c.HomeTenantID}, nil
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("SHOPDESK_DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// In production, this will fail if SHOPDESK_JWT_SECRET is not set.
// In dev mode, it will generate a random secret and log a warning.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("SHOPDESK_JWT_SECRET")

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("SHOPDESK_JWT_SECRET not set, using auto-generated secret for development; tokens will not survive a restart")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: SHOPDESK_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: go run scripts/generate-key.go")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("SHOPDESK_JWT_SECRET is shorter than the recommended 32 characters")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() hasn't been called or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a token for p. Used by cmd/devtoken and tests; production
// tokens come from the login service.
func GenerateJWT(p access.Principal, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 1 * time.Hour
	}

	claims := &Claims{
		UserID:       p.ID,
		Role:         string(p.Role),
		HomeTenantID: p.HomeTenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    jwtIssuer,
			Subject:   p.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(GetJWTSecret()))
}

// ValidateJWT parses and validates a JWT token
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}
