package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"excursion/models"
	"excursion/pkg/logging"
	"excursion/pkg/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PrincipalKey is the gin context key holding the resolved *models.User.
const PrincipalKey = "principal"

// Verifier validates a bearer credential and yields the principal id.
type Verifier interface {
	Verify(raw string) (uint, bool)
}

// PrincipalLoader loads a principal by id together with its refresh tokens.
type PrincipalLoader interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// Identity attaches the principal named by a valid bearer credential. It never
// rejects a request for a missing or invalid credential; Authorize does that.
func Identity(verifier Verifier, loader PrincipalLoader, log *zap.Logger) gin.HandlerFunc {
	log = logging.OrNop(log).Named("identity")
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}
		id, ok := verifier.Verify(raw)
		if !ok {
			c.Next()
			return
		}
		user, err := loader.FindByID(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Set(PrincipalKey, user)
		case errors.Is(err, repository.ErrNotFound):
			// credential outlived its principal; treat as anonymous
		default:
			log.Error("load principal failed", zap.Uint("user_id", id), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
			return
		}
		c.Next()
	}
}

// Principal returns the principal attached by Identity, if any.
func Principal(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
