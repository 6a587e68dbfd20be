package server

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/readpool/internal/handle"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/registry"
	"github.com/user/readpool/internal/router"
)

type queryRequest struct {
	SQL  string `json:"sql" binding:"required"`
	Args []any  `json:"args"`
}

type execRequest struct {
	SQL    string `json:"sql" binding:"required"`
	Args   []any  `json:"args"`
	Verify string `json:"verify"`
}

type resultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// query classifies the statement and runs it on a Read handle when it is a
// plain read, or on the Read view of a ReadWrite handle otherwise.
func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if msg := rejectStatement(req.SQL); msg != "" {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	ctx := c.Request.Context()
	reg := registry.FromContext(ctx)
	dest := s.router.Route(req.SQL)

	var h *handle.Read[*sql.Conn]
	if dest == router.Replica {
		r, err := handle.AcquireRead(ctx, reg, sqlDatabase(c))
		if err != nil {
			respondAcquireError(c, err)
			return
		}
		defer r.Release()
		h = r
	} else {
		rw, err := handle.AcquireReadWrite(ctx, reg, sqlDatabase(c))
		if err != nil {
			respondAcquireError(c, err)
			return
		}
		defer rw.Release()
		h = rw.AsRead()
	}

	rs, err := runQuery(ctx, h, req.SQL, req.Args)
	if err != nil {
		logger.FromContext(ctx).ErrorWithErr("query failed", err, "database", h.Database(), "routed_to", dest.String())
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"routed_to": dest.String(), "result": rs})
}

// exec runs a write and, when asked, reads back through the same connection
// so the caller sees its own write.
func (s *Server) exec(c *gin.Context, h *handle.ReadWrite[*sql.Conn]) {
	var req execRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	for _, q := range []string{req.SQL, req.Verify} {
		if msg := rejectStatement(q); msg != "" {
			respondError(c, http.StatusBadRequest, msg)
			return
		}
	}

	ctx := c.Request.Context()
	res, err := h.Conn().ExecContext(ctx, req.SQL, req.Args...)
	if err != nil {
		logger.FromContext(ctx).ErrorWithErr("exec failed", err, "database", h.Database())
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	body := gin.H{}
	if affected, err := res.RowsAffected(); err != nil {
		logger.FromContext(ctx).WarnWithErr("rows affected unavailable", err, "database", h.Database())
	} else {
		body["rows_affected"] = affected
	}
	if req.Verify != "" {
		rs, err := runQuery(ctx, h.AsRead(), req.Verify, nil)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		body["verify"] = rs
	}
	c.JSON(http.StatusOK, body)
}

// rejectStatement returns why q cannot run on a pooled connection, or "" when
// it can. Transactions and session settings would outlive the request on a
// connection the next request reuses.
func rejectStatement(q string) string {
	switch {
	case router.IsTransactionStart(q), router.IsTransactionEnd(q):
		return "transaction control is not allowed on pooled connections"
	case router.IsSessionModification(q):
		return "session state changes are not allowed on pooled connections"
	}
	return ""
}

// runQuery only needs read access, so it takes a Read handle and works the
// same for both handle kinds.
func runQuery(ctx context.Context, h *handle.Read[*sql.Conn], query string, args []any) (*resultSet, error) {
	rows, err := h.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &resultSet{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	return rs, rows.Err()
}
