// Package sqlpool adapts database/sql to the pool.Pool capability. Handles
// receive a *sql.Conn; closing it returns the connection to the *sql.DB.
package sqlpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/pool"
)

// DefaultDriver is used when a section does not name a driver.
const DefaultDriver = "mysql"

var ErrAcquireTimeout = errors.New("sqlpool: timed out waiting for a connection")

type Pool struct {
	db             *sql.DB
	driver         string
	connectTimeout time.Duration
}

// Open is a pool.Opener for database/sql drivers.
func Open(ctx context.Context, sec config.Section) (pool.Pool[*sql.Conn], error) {
	pc, err := sec.PoolConfig()
	if err != nil {
		return nil, err
	}
	p, err := New(ctx, pc)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// New opens the *sql.DB, applies the pool limits and verifies connectivity
// by checking out min_connections (at least one) connections.
func New(ctx context.Context, pc config.PoolConfig) (*Pool, error) {
	driver := pc.Driver
	if driver == "" {
		driver = DefaultDriver
	}

	db, err := sql.Open(driver, pc.URL)
	if err != nil {
		return nil, fmt.Errorf("sqlpool: open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(pc.MaxConnections)
	db.SetMaxIdleConns(pc.MaxConnections)
	if pc.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(pc.IdleTimeoutDuration())
	}
	if pc.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pc.MaxLifetimeDuration())
	}

	p := &Pool{db: db, driver: driver, connectTimeout: pc.ConnectTimeoutDuration()}
	if err := p.warm(ctx, max(pc.MinConnections, 1)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlpool: connect %s: %w", driver, err)
	}
	return p, nil
}

func (p *Pool) warm(ctx context.Context, n int) error {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	for i := 0; i < n; i++ {
		c, err := p.db.Conn(ctx)
		if err != nil {
			return err
		}
		conns = append(conns, c)
		if err := c.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Get checks out one connection, waiting at most connect_timeout for a free
// slot. Cancellation of ctx is returned unchanged.
func (p *Pool) Get(ctx context.Context) (*sql.Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	conn, err := p.db.Conn(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrAcquireTimeout, p.connectTimeout, err)
		}
		return nil, err
	}
	return conn, nil
}

func (p *Pool) Close() {
	if err := p.db.Close(); err != nil {
		logger.Get().WarnWithErr("sqlpool: close", err, "driver", p.driver)
	}
}

func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Backend names the driver; the DSN is left out since it may carry
// credentials.
func (p *Pool) Backend() string {
	return p.driver
}
