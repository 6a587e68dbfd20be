package server

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/readpool/internal/backend/netpool"
	"github.com/user/readpool/internal/backend/sqlpool"
	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/metrics"
	"github.com/user/readpool/internal/pool"
	"github.com/user/readpool/internal/registry"
)

func memoryURL(t *testing.T, name string) string {
	return fmt.Sprintf("file:server_%s_%s?mode=memory&cache=shared", t.Name(), name)
}

// seed creates a one-row whoami table on whichever pool get draws from.
func seed(t *testing.T, get func(context.Context) (*sql.Conn, error), name string) {
	t.Helper()
	ctx := context.Background()
	conn, err := get(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "CREATE TABLE whoami (name TEXT)")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "INSERT INTO whoami VALUES (?)", name)
	require.NoError(t, err)
}

func newSQLServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	ctx := context.Background()
	rp, err := pool.Open(ctx, "main", config.Section{
		"driver":          "sqlite3",
		"url":             memoryURL(t, "primary"),
		"max_connections": 2,
		"read":            map[string]any{"url": memoryURL(t, "replica")},
	}, sqlpool.Open)
	require.NoError(t, err)

	seed(t, rp.Get, "primary")
	seed(t, rp.GetRead, "replica")

	reg := registry.New()
	require.NoError(t, registry.Register(reg, registry.Define[*sql.Conn, *pool.ReadPool[*sql.Conn]]("main"), rp))
	t.Cleanup(reg.Close)

	return New(config.Default().Server, reg), reg
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func rows(t *testing.T, v any) []any {
	t.Helper()
	rs, ok := v.(map[string]any)
	require.True(t, ok, "result set missing: %v", v)
	r, ok := rs["rows"].([]any)
	require.True(t, ok)
	return r
}

func TestQueryRoutesReadsToReplica(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/query", `{"sql":"SELECT name FROM whoami"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "replica", body["routed_to"])
	assert.Equal(t, []any{[]any{"replica"}}, rows(t, body["result"]))
}

func TestQueryRoutesWritesToPrimary(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/query", `{"sql":"INSERT INTO whoami VALUES ('q') RETURNING name"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "primary", decode(t, rec)["routed_to"])
}

func TestQueryRejectsSessionChanges(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/query", `{"sql":"SET search_path TO x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecReadsOwnWrite(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/exec", `{
		"sql": "INSERT INTO whoami VALUES (?)",
		"args": ["written"],
		"verify": "SELECT count(*) FROM whoami"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["rows_affected"])
	assert.Equal(t, []any{[]any{float64(2)}}, rows(t, body["verify"]))

	rec = post(t, s, "/v1/sql/main/query", `{"sql":"SELECT count(*) FROM whoami"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{[]any{float64(1)}}, rows(t, decode(t, rec)["result"]), "replica is untouched")
}

func TestQueryMultipleStatementsStayOffReplica(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/query", `{"sql":"SELECT 1; DELETE FROM whoami"}`)
	assert.NotEqual(t, "replica", decode(t, rec)["routed_to"])

	rec = post(t, s, "/v1/sql/main/query", `{"sql":"SELECT count(*) FROM whoami"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "replica", body["routed_to"])
	assert.Equal(t, []any{[]any{float64(1)}}, rows(t, body["result"]), "replica row must survive")
}

func TestTransactionControlRejected(t *testing.T) {
	s, _ := newSQLServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"exec begin", "/v1/sql/main/exec", `{"sql":"BEGIN"}`},
		{"exec start transaction", "/v1/sql/main/exec", `{"sql":"start transaction"}`},
		{"exec commit", "/v1/sql/main/exec", `{"sql":"COMMIT"}`},
		{"exec begin in verify", "/v1/sql/main/exec", `{"sql":"DELETE FROM whoami WHERE 0","verify":"BEGIN"}`},
		{"exec session change", "/v1/sql/main/exec", `{"sql":"PRAGMA foreign_keys = ON; SET x = 1"}`},
		{"query begin", "/v1/sql/main/query", `{"sql":"BEGIN"}`},
		{"query trailing rollback", "/v1/sql/main/query", `{"sql":"SELECT 1; ROLLBACK"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, s, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	// no transaction was left open on a pooled connection
	for i := 0; i < 3; i++ {
		rec := post(t, s, "/v1/sql/main/exec", `{"sql":"INSERT INTO whoami VALUES ('after')"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := post(t, s, "/v1/sql/main/exec", `{"sql":"DELETE FROM whoami WHERE name = 'nobody'","verify":"SELECT count(*) FROM whoami"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{[]any{float64(4)}}, rows(t, decode(t, rec)["verify"]))
}

func TestSQLUnregisteredDatabase(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/ghost/query", `{"sql":"SELECT 1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, decode(t, rec), "error")
}

func TestBadRequestBody(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := post(t, s, "/v1/sql/main/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDatabasesAndHealth(t *testing.T) {
	s, _ := newSQLServer(t)

	rec := get(s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(s.Handler(), "/v1/databases")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{map[string]any{
		"name":            "main",
		"has_replica":     true,
		"backend":         "sqlite3",
		"replica_backend": "sqlite3",
	}}, decode(t, rec)["databases"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Reset()
	s, _ := newSQLServer(t)

	post(t, s, "/v1/sql/main/query", `{"sql":"SELECT name FROM whoami"}`)

	rec := get(s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `readpool_replica_acquires_total{database="main"}`))
}

func listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	return ln.Addr().String()
}

func TestTCPProbe(t *testing.T) {
	primary, replica := listen(t), listen(t)

	rp, err := pool.Open(context.Background(), "edge", config.Section{
		"url":  primary,
		"read": map[string]any{"url": replica},
	}, netpool.Open)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, registry.Register(reg, registry.Define[*netpool.Conn, *pool.ReadPool[*netpool.Conn]]("edge"), rp))
	t.Cleanup(reg.Close)
	s := New(config.Default().Server, reg)

	rec := get(s.Handler(), "/v1/tcp/edge/probe")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, primary, body["read_write"])
	assert.Equal(t, replica, body["read"])

	rec = get(s.Handler(), "/v1/databases")
	require.Equal(t, http.StatusOK, rec.Code)
	dbs := decode(t, rec)["databases"].([]any)
	require.Len(t, dbs, 1)
	info := dbs[0].(map[string]any)
	assert.Equal(t, "tcp://"+primary, info["backend"])
	assert.Equal(t, "tcp://"+replica, info["replica_backend"])

	// a TCP database is not servable as SQL
	rec = post(t, s, "/v1/sql/edge/query", `{"sql":"SELECT 1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
