package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/chat-gateway/internal/store"
	"github.com/nulzo/chat-gateway/internal/supplier"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// ErrorHandler renders the last error a handler attached with c.Error as an RFC 9457 problem.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		// a stream already started reports its own failures in-band
		if c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		problem := ToProblem(err)

		if problem.Status >= http.StatusInternalServerError {
			logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		} else if problem.Log != nil {
			logger.Debug("Request rejected", zap.String("path", c.Request.URL.Path), zap.Error(problem.Log))
		}

		// RFC 9457 dictates the json is at the root
		c.Header("Content-Type", "application/problem+json")
		c.JSON(problem.Status, problem)
		c.Abort()
	}
}

// ToProblem maps domain sentinels onto HTTP problems. Unknown errors become a 500 without detail.
func ToProblem(err error) *api.Problem {
	var problem *api.Problem
	if errors.As(err, &problem) {
		return problem
	}

	switch {
	case errors.Is(err, supplier.ErrNoProviderForModel):
		return api.BadRequestError(err.Error(), api.WithLog(err))
	case errors.Is(err, supplier.ErrUnknownSupplier),
		errors.Is(err, supplier.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return api.NotFoundError(err.Error(), api.WithLog(err))
	case errors.Is(err, supplier.ErrPoolEmpty),
		errors.Is(err, supplier.ErrClientUnavailable),
		errors.Is(err, supplier.ErrSupplierInit):
		return api.UnavailableError(err.Error(), err)
	}

	return api.InternalError("An unexpected error occurred.", err)
}
