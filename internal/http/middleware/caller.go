package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/kelaseh/backend/internal/db"
	"github.com/kelaseh/backend/internal/models"
)

const (
	UserIDHeader = "X-User-Id"
	callerKey    = "kelaseh.caller"
)

type UserLookup interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// Caller resolves X-User-Id to an active user and stores its branch
// authorization on the context. Unknown or inactive users get 401.
func Caller(users UserLookup, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(UserIDHeader))
		id, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || id <= 0 {
			unauthorized(c, "Missing or malformed "+UserIDHeader)
			return
		}
		u, err := users.GetUser(c.Request.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			unauthorized(c, "Unknown user")
			return
		}
		if err != nil {
			logger.Error().Err(err).Int64("user_id", id).Msg("caller lookup failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{
					"code":    "DB_UNAVAILABLE",
					"message": "Could not resolve caller",
				},
			})
			return
		}
		if !u.Active {
			unauthorized(c, "User is inactive")
			return
		}
		c.Set(callerKey, u.Authorization())
		c.Next()
	}
}

func CallerFrom(c *gin.Context) (models.CallerAuthorization, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return models.CallerAuthorization{}, false
	}
	auth, ok := v.(models.CallerAuthorization)
	return auth, ok
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "UNAUTHORIZED",
			"message": msg,
		},
	})
}
