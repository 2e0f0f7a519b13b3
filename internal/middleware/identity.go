package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"promptstudio-backend-go/internal/core"
)

// Canonical identity headers. Legacy spellings are read as fallbacks.
const (
	HeaderAccountID = "X-Gle-Account-Id"
	HeaderUserID    = "X-Gle-User-Id"
	HeaderAPIKey    = "X-Gle-Api-Key"
	HeaderAdminKey  = "X-Admin-Key"
)

var (
	accountIDHeaders = []string{HeaderAccountID, "X-Gle-Accountid", "X-Account-Id"}
	userIDHeaders    = []string{HeaderUserID, "X-Gle-User", "X-User-Id"}
	apiKeyHeaders    = []string{HeaderAPIKey, "X-Openai-Key", "X-Api-Key"}
)

const (
	contextAccountID = "accountID"
	contextUserID    = "userID"
	contextAPIKey    = "apiKey"
)

func firstHeader(c *gin.Context, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

// IdentityMiddleware reads the caller identity headers into the context.
// A missing account id is derived from the user id when possible; routes
// that need an account reject the request themselves.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := firstHeader(c, userIDHeaders)
		accountID := firstHeader(c, accountIDHeaders)
		if accountID == "" {
			accountID = core.DeriveAccountID(userID)
		}
		c.Set(contextAccountID, accountID)
		c.Set(contextUserID, userID)
		c.Set(contextAPIKey, firstHeader(c, apiKeyHeaders))
		c.Next()
	}
}

// AccountID returns the resolved account id, or "".
func AccountID(c *gin.Context) string { return c.GetString(contextAccountID) }

// UserID returns the caller user id, or "".
func UserID(c *gin.Context) string { return c.GetString(contextUserID) }

// APIKey returns the caller provider key from headers, or "".
func APIKey(c *gin.Context) string { return c.GetString(contextAPIKey) }
