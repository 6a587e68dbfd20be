package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/user/readpool/internal/handle"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/registry"
)

const requestIDHeader = "X-Request-ID"

// RequestID tags every request with an ID, taken from X-Request-ID when the
// client sends one, and stores a logger carrying it in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		l := logger.Get().With("request_id", id)
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), l))
		c.Next()
	}
}

// RequestLogger logs one line per request once the handler chain is done.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.FromContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Inject makes reg available to handlers through the request context.
func Inject(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(registry.WithRegistry(c.Request.Context(), reg))
		c.Next()
	}
}

// Require rejects the request with 500 before the handler runs when the
// database named by name(c) was never registered.
func Require(name func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := name(c)
		if !handle.Available(registry.FromContext(c.Request.Context()), db) {
			logger.FromContext(c.Request.Context()).Error("request for unregistered database", "database", db)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: http.StatusInternalServerError})
			return
		}
		c.Next()
	}
}

// ParamDB reads the database name from the :db path parameter.
func ParamDB(c *gin.Context) string {
	return c.Param("db")
}
