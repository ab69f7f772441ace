package middleware

import (
	"net/http"
	"slices"

	"excursion/models"

	"github.com/gin-gonic/gin"
)

const anonymousKey = "allow_anonymous"

// AllowAnonymous marks the route so that Authorize lets any caller through.
// It must run before Authorize in the chain.
func AllowAnonymous() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(anonymousKey, true)
		c.Next()
	}
}

// Authorize rejects requests without a principal, or whose principal role is
// not in roles. No roles means any authenticated principal. Both failures
// produce the same 401 so role membership is not disclosed.
func Authorize(roles ...models.Role) gin.HandlerFunc {
	allowed := slices.Clone(roles)
	return func(c *gin.Context) {
		if c.GetBool(anonymousKey) {
			c.Next()
			return
		}
		user, ok := Principal(c)
		if !ok || (len(allowed) > 0 && !slices.Contains(allowed, user.Role)) {
			Unauthorized(c)
			return
		}
		c.Next()
	}
}

// Unauthorized aborts with the generic 401 body.
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
}
