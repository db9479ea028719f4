// Package middleware provides Gin HTTP middleware for authentication, tenant
// isolation, rate limiting, security headers, metrics and request logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → Logger → Auth → RateLimit → TenantGuard / ReadAccess → Handler
//
// Security headers run first so they appear on all responses including errors.
// Auth populates the principal; rate limiting keys on it, and the tenant guard
// and read validator make their decisions from it alone.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/auth"
)

// PrincipalKey is the gin.Context key holding the authenticated access.Principal.
const PrincipalKey = "principal"

// TokenVerifier verifies bearer tokens issued by an external identity
// provider. Implemented by oidc.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (access.Principal, error)
}

// AuthMiddleware authenticates the bearer token. Session JWTs are tried first
// since they need no network round trip; when verifier is non-nil, OIDC ID
// tokens are accepted as a fallback.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		if claims, err := auth.ValidateJWT(token); err == nil {
			p, err := claims.Principal()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid credentials",
				})
				return
			}
			setPrincipal(c, p, "jwt")
			c.Next()
			return
		}

		if verifier != nil {
			if p, err := verifier.Verify(c.Request.Context(), token); err == nil {
				setPrincipal(c, p, "oidc")
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
	}
}

func setPrincipal(c *gin.Context, p access.Principal, method string) {
	c.Set(PrincipalKey, p)
	c.Set("user_id", p.ID)
	c.Set("auth_method", method)
}

// GetPrincipal returns the principal stored by AuthMiddleware.
func GetPrincipal(c *gin.Context) (access.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return access.Principal{}, false
	}
	p, ok := v.(access.Principal)
	return p, ok
}
