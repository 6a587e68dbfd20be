package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/user/readpool/internal/backend/netpool"
	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/metrics"
	"github.com/user/readpool/internal/pool"
	"github.com/user/readpool/internal/registry"
	"github.com/user/readpool/internal/router"
)

// Database kinds the HTTP surface knows how to serve.
type (
	SQLDatabase = registry.Database[*sql.Conn, *pool.ReadPool[*sql.Conn]]
	TCPDatabase = registry.Database[*netpool.Conn, *pool.ReadPool[*netpool.Conn]]
)

func sqlDatabase(c *gin.Context) SQLDatabase {
	return registry.Define[*sql.Conn, *pool.ReadPool[*sql.Conn]](ParamDB(c))
}

func tcpDatabase(c *gin.Context) TCPDatabase {
	return registry.Define[*netpool.Conn, *pool.ReadPool[*netpool.Conn]](ParamDB(c))
}

type Server struct {
	engine *gin.Engine
	http   *http.Server
	reg    *registry.Registry
	router *router.Router
}

func New(cfg config.ServerConfig, reg *registry.Registry) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), RequestLogger(), Inject(reg))

	s := &Server{
		engine: engine,
		reg:    reg,
		router: router.NewRouter(),
		http: &http.Server{
			Addr:         cfg.Address,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapF(metrics.Handler()))

	v1 := s.engine.Group("/v1")
	v1.GET("/databases", s.listDatabases)

	sqlGroup := v1.Group("/sql/:db", Require(ParamDB))
	sqlGroup.POST("/query", s.query)
	sqlGroup.POST("/exec", WithReadWrite(sqlDatabase, s.exec))

	tcpGroup := v1.Group("/tcp/:db", Require(ParamDB))
	tcpGroup.GET("/probe", WithReadWrite(tcpDatabase, s.probe))
}

// Handler exposes the routed engine, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Get().Info("http server listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) listDatabases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"databases": s.reg.List()})
}
