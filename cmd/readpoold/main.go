package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/user/readpool/internal/backend/netpool"
	"github.com/user/readpool/internal/backend/sqlpool"
	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/pool"
	"github.com/user/readpool/internal/registry"
	"github.com/user/readpool/internal/server"
)

const tcpDriver = "tcp"

func main() {
	configPath := flag.String("config", "readpool.yaml", "path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Level(cfg.Logging.Level), cfg.Logging.Format)
	log := logger.Get()
	if cfg.Logging.Level != string(logger.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := registry.New()
	if err := openDatabases(context.Background(), cfg, reg); err != nil {
		log.ErrorWithErr("failed to initialize databases", err)
		reg.Close()
		os.Exit(1)
	}

	srv := server.New(cfg.Server, reg)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadLogging(*configPath)
				continue
			}
			log.Info("received signal, shutting down", "signal", sig.String())
			break loop
		case err := <-errCh:
			if err != nil {
				log.ErrorWithErr("http server failed", err)
			}
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.ErrorWithErr("error during shutdown", err)
	}
	reg.Close()
	log.Info("readpool shutdown complete")
}

// openDatabases builds and registers every configured database. The pool kind
// follows the section's driver: "tcp" gets a raw connection pool, anything
// else goes through database/sql.
func openDatabases(ctx context.Context, cfg *config.Config, reg *registry.Registry) error {
	log := logger.Get()
	for _, name := range cfg.DatabaseNames() {
		sec := cfg.Databases[name]
		log.Debug("opening database", "database", name, "config", sec.String())

		var err error
		if driver, _ := sec["driver"].(string); driver == tcpDriver {
			err = register(ctx, reg, server.TCPDatabase{Name: name}, sec, netpool.Open)
		} else {
			err = register(ctx, reg, server.SQLDatabase{Name: name}, sec, sqlpool.Open)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func register[C io.Closer](ctx context.Context, reg *registry.Registry, db registry.Database[C, *pool.ReadPool[C]], sec config.Section, open pool.Opener[C]) error {
	rp, err := pool.Open(ctx, db.Name, sec, open)
	if err != nil {
		return err
	}
	if err := registry.Register(reg, db, rp); err != nil {
		rp.Close()
		return err
	}
	logger.Get().Info("database ready", "database", db.Name, "replica", rp.HasReplica())
	return nil
}

// reloadLogging re-reads the configuration and applies its logging section.
// Databases are not rebuilt.
func reloadLogging(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Get().ErrorWithErr("failed to reload config", err)
		return
	}
	logger.Init(logger.Level(cfg.Logging.Level), cfg.Logging.Format)
	logger.Get().Info("logging reloaded", "level", cfg.Logging.Level)
}
