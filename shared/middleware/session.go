package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hstar0124/cpp-boost-chat/shared/models"
)

const (
	SessionTokenHeader = "X-Session-Token"

	accountIDKey    = "accountId"
	sessionTokenKey = "sessionToken"
)

// SessionResolver maps a session token to the account it belongs to.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (int64, models.StatusCode)
}

// SessionAuth rejects requests whose X-Session-Token does not name a live session.
func SessionAuth(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(SessionTokenHeader)
		if token == "" {
			RespondWithError(c, http.StatusUnauthorized, "Session token required")
			c.Abort()
			return
		}

		accountID, status := resolver.Resolve(c.Request.Context(), token)
		switch status {
		case models.Success:
		case models.ServerError:
			RespondWithError(c, http.StatusInternalServerError, models.GenericServerErrorMessage)
			c.Abort()
			return
		default:
			RespondWithError(c, http.StatusUnauthorized, "Invalid or expired session")
			c.Abort()
			return
		}

		c.Set(accountIDKey, accountID)
		c.Set(sessionTokenKey, token)
		c.Next()
	}
}

func GetAccountID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(accountIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

func GetSessionToken(c *gin.Context) (string, bool) {
	v, exists := c.Get(sessionTokenKey)
	if !exists {
		return "", false
	}
	token, ok := v.(string)
	return token, ok
}
