package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/readpool/internal/handle"
	"github.com/user/readpool/internal/pool"
	"github.com/user/readpool/internal/registry"
)

// ErrorResponse is the body of every failed request. Error is left out when
// there is no detail to give.
type ErrorResponse struct {
	Error string `json:"error,omitempty"`
	Code  int    `json:"code"`
}

// respondAcquireError maps a classified acquisition failure onto the
// response: 503 with the pool error, or 500 with no detail.
func respondAcquireError(c *gin.Context, err error) {
	status := handle.StatusOf(err)
	resp := ErrorResponse{Code: status}
	if status == http.StatusServiceUnavailable {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: status})
}

// WithRead acquires a Read handle for db(c) around fn and releases it when fn
// returns.
func WithRead[C io.Closer, P handle.ReadPooler[C]](db func(*gin.Context) registry.Database[C, P], fn func(*gin.Context, *handle.Read[C])) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		h, err := handle.AcquireRead(ctx, registry.FromContext(ctx), db(c))
		if err != nil {
			respondAcquireError(c, err)
			return
		}
		defer h.Release()
		fn(c, h)
	}
}

// WithReadWrite acquires a ReadWrite handle for db(c) around fn and releases
// it when fn returns.
func WithReadWrite[C io.Closer, P pool.Pool[C]](db func(*gin.Context) registry.Database[C, P], fn func(*gin.Context, *handle.ReadWrite[C])) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		h, err := handle.AcquireReadWrite(ctx, registry.FromContext(ctx), db(c))
		if err != nil {
			respondAcquireError(c, err)
			return
		}
		defer h.Release()
		fn(c, h)
	}
}
