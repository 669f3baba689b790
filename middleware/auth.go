package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/cache"
	"github.com/TheFokysnik/EcoTaleQuests/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const UserIDKey = "user_id"

func revokedKey(jti string) string { return "quests:revoked:" + jti }

// Auth validates the Bearer JWT token and rejects revoked ones. Token
// extraction also accepts ?token= for EventSource clients, which cannot set
// headers.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := bearer(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := claims.User()
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if claims.ID != "" && c != nil {
			cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
			defer cancel()
			revoked, err := c.Exists(cacheCtx, revokedKey(claims.ID))
			if err == nil && revoked {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
				return
			}
		}

		ctx.Set(UserIDKey, user)
		ctx.Next()
	}
}

func bearer(ctx *gin.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if header == "" {
		return ctx.Query("token")
	}
	return ""
}

// Revoke blacklists the token until it would have expired anyway.
func Revoke(ctx context.Context, c cache.Cache, claims *Claims) error {
	if claims.ID == "" {
		return nil
	}
	ttl := time.Hour
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return c.Set(ctx, revokedKey(claims.ID), "1", ttl)
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) uuid.UUID {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(uuid.UUID)
	}
	return uuid.Nil
}
