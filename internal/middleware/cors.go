package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// OriginPolicy decides which browser origins may call the API.
type OriginPolicy struct {
	allowed map[string]bool
}

// NewOriginPolicy allows the given origins plus any *.vercel.app preview.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			p.allowed[o] = true
		}
	}
	return p
}

// Allowed reports whether origin may call the API. An empty origin
// (curl, server to server) is allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.allowed[origin] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), ".vercel.app")
}

// ReturnBase picks the base URL for Stripe redirects: the request origin
// when it is allowed, otherwise fallback.
func (p *OriginPolicy) ReturnBase(c *gin.Context, fallback string) string {
	origin := strings.TrimSpace(c.GetHeader("Origin"))
	if origin != "" && p.Allowed(origin) {
		return strings.TrimRight(origin, "/")
	}
	return strings.TrimRight(fallback, "/")
}

// CORSMiddleware configures Cross-Origin Resource Sharing for the frontend.
// Blocked origins get a JSON 403 instead of an empty response.
func CORSMiddleware(policy *OriginPolicy) gin.HandlerFunc {
	handler := cors.New(cors.Config{
		AllowOriginFunc: policy.Allowed,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			HeaderAccountID, "X-Gle-Accountid", "X-Account-Id",
			HeaderUserID, "X-Gle-User", "X-User-Id",
			HeaderAPIKey, "X-Openai-Key", "X-Api-Key",
			HeaderAdminKey, HeaderRequestID,
		},
		ExposeHeaders: []string{"Content-Length", "X-Gle-Build", "X-Gle-Engine", HeaderRequestID, "Retry-After"},
		MaxAge:        12 * time.Hour,
	})

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !policy.Allowed(origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Error:   "cors_blocked",
				Message: "CORS blocked: " + origin,
			})
			return
		}
		handler(c)
	}
}
