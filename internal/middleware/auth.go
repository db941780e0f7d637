package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tourguard/internal/auth"
)

const claimsKey = "claims"

// Auth requires a valid Bearer token and stores its claims in the context.
func Auth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := svc.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil || !claims.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// GetClaims returns the caller's claims, or nil on unauthenticated routes.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// CallerScope resolves the scope a query runs under. Callers with the global
// scope may narrow it with ?scope=; everyone else is pinned to their own.
func CallerScope(c *gin.Context) string {
	claims := GetClaims(c)
	requested := c.Query("scope")
	if claims == nil {
		return requested
	}
	if claims.Scope == "" || claims.Scope == "*" {
		return requested
	}
	return claims.Scope
}
