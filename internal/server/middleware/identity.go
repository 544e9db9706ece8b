package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

const (
	UserIDHeader = "X-User-ID"
	callerKey    = "caller"
)

// Identity reads the optional X-User-ID header into a supplier.Caller used for client affinity.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			c.Next()
			return
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			_ = c.Error(api.BadRequestError(UserIDHeader+" must be an integer", api.WithLog(err)))
			c.Abort()
			return
		}
		c.Set(callerKey, supplier.NewCaller(id))
		c.Next()
	}
}

// CallerFrom returns the caller set by Identity, or nil for anonymous requests.
func CallerFrom(c *gin.Context) *supplier.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*supplier.Caller)
	return caller
}
