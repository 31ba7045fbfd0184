package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/relationd/cache"
	"github.com/kasuganosora/relationd/config"
)

const UserIDKey = "user_id"

// SessionKey is the cache key holding the user id a token was issued to.
func SessionKey(token string) string { return "session:" + token }

// BannedKey marks an account as banned while present.
func BannedKey(userID string) string { return "banned:" + userID }

// Auth validates the Bearer JWT token, checks the session cache and rejects
// banned accounts. The resolved user id is the only actor identity handlers
// may use.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil || claims.UserID == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		owner, err := c.Get(cacheCtx, SessionKey(tokenStr))
		if err != nil || owner != claims.UserID {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		banned, err := c.Exists(cacheCtx, BannedKey(claims.UserID))
		if err != nil || banned {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account banned"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(UserIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
