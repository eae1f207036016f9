package mw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ActorHeader carries the authenticated user id, set by the auth layer in
// front of this service.
const ActorHeader = "X-User-ID"

// actorKey is the gin context key holding the parsed actor id.
const actorKey = "actorID"

// RequireActor rejects requests that do not carry a valid user id.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ActorHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
			return
		}
		c.Set(actorKey, id)
		c.Next()
	}
}

// Actor returns the acting user id set by RequireActor.
func Actor(c *gin.Context) int64 {
	return c.GetInt64(actorKey)
}
