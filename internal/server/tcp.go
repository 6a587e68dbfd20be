package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/readpool/internal/backend/netpool"
	"github.com/user/readpool/internal/handle"
	"github.com/user/readpool/internal/registry"
)

// probe holds a ReadWrite handle and additionally acquires a Read handle, then
// reports which backend each one landed on.
func (s *Server) probe(c *gin.Context, rw *handle.ReadWrite[*netpool.Conn]) {
	ctx := c.Request.Context()
	r, err := handle.AcquireRead(ctx, registry.FromContext(ctx), tcpDatabase(c))
	if err != nil {
		respondAcquireError(c, err)
		return
	}
	defer r.Release()

	c.JSON(http.StatusOK, gin.H{
		"database":   rw.Database(),
		"read_write": rw.Conn().RemoteAddr().String(),
		"read":       r.Conn().RemoteAddr().String(),
	})
}
