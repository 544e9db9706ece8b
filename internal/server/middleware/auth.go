package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/chat-gateway/pkg/api"
)

// Auth requires one of keys as a Bearer token or X-API-Key header. With no keys configured the
// group is open.
func Auth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}
		if !validKey(requestKey(c), keys) {
			_ = c.Error(api.UnauthorizedError("Missing or invalid API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Admin guards token management. With no admin keys configured the admin API is disabled.
func Admin(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			_ = c.Error(api.ForbiddenError("Admin API is disabled"))
			c.Abort()
			return
		}
		if !validKey(requestKey(c), keys) {
			_ = c.Error(api.UnauthorizedError("Missing or invalid admin key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func validKey(key string, keys []string) bool {
	if key == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
