package pool

import (
	"context"

	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/metrics"
)

// ReadPool pairs a main pool with an optional read replica pool of the same
// backend type. Whether a replica exists is fixed at construction.
type ReadPool[C any] struct {
	name  string
	main  Pool[C]
	read  Pool[C] // nil when no replica is configured
	stats *metrics.Counters
}

var (
	_ Pool[any]       = (*ReadPool[any])(nil)
	_ ReadRouter[any] = (*ReadPool[any])(nil)
)

// New wraps already built pools. read may be nil.
func New[C any](name string, main Pool[C], read Pool[C]) *ReadPool[C] {
	return &ReadPool[C]{
		name:  name,
		main:  main,
		read:  read,
		stats: metrics.For(name),
	}
}

// Open builds the main pool from sec and, when sec has a "read" section, the
// replica pool from the read section layered over sec. Either failure fails
// the whole call; a main pool built before a replica failure is closed again.
func Open[C any](ctx context.Context, name string, sec config.Section, open Opener[C]) (*ReadPool[C], error) {
	log := logger.Get().With("database", name)

	main, err := open(ctx, sec.Without(config.ReadKey))
	if err != nil {
		log.ErrorWithErr("main pool init failed", err)
		return nil, &InitError{Database: name, Role: RoleMain, Err: err}
	}

	readSec, ok, err := sec.ReadSection()
	if err != nil {
		log.ErrorWithErr("read pool config invalid", err)
		main.Close()
		return nil, &InitError{Database: name, Role: RoleRead, Err: err}
	}
	if !ok {
		log.Info("pool ready", "replica", false)
		return New(name, main, nil), nil
	}

	read, err := open(ctx, readSec)
	if err != nil {
		log.ErrorWithErr("read pool init failed", err, "config", readSec.String())
		main.Close()
		return nil, &InitError{Database: name, Role: RoleRead, Err: err}
	}

	log.Info("pool ready", "replica", true)
	return New(name, main, read), nil
}

// Backends describes the main and replica pools, for introspection. A pool
// that does not implement Backend() string is reported as "". read is empty
// when no replica is configured.
func (p *ReadPool[C]) Backends() (main, read string) {
	main = describe(p.main)
	if p.read != nil {
		read = describe(p.read)
	}
	return main, read
}

func describe(p any) string {
	if d, ok := p.(interface{ Backend() string }); ok {
		return d.Backend()
	}
	return ""
}

func (p *ReadPool[C]) HasReplica() bool {
	return p.read != nil
}

// Get returns a read-write connection from the main pool.
func (p *ReadPool[C]) Get(ctx context.Context) (C, error) {
	conn, err := p.main.Get(ctx)
	if err != nil {
		p.stats.IncAcquireErrors()
		return conn, err
	}
	p.stats.IncMainAcquires()
	return conn, nil
}

// GetRead returns a connection from the replica pool, or from the main pool
// when no replica is configured. Replica errors are returned as is; there is
// no fallback to main on failure.
func (p *ReadPool[C]) GetRead(ctx context.Context) (C, error) {
	if p.read == nil {
		p.stats.IncFallbackReads()
		return p.Get(ctx)
	}

	conn, err := p.read.Get(ctx)
	if err != nil {
		p.stats.IncAcquireErrors()
		return conn, err
	}
	p.stats.IncReplicaAcquires()
	return conn, nil
}

// Close closes the main pool and then the replica pool, if any. A panic in
// one close is logged and does not stop the other.
func (p *ReadPool[C]) Close() {
	closePool(p.name, RoleMain, p.main)
	if p.read != nil {
		closePool(p.name, RoleRead, p.read)
	}
	logger.Get().Info("pool closed", "database", p.name, "replica", p.read != nil)
}

func closePool[C any](name string, role Role, p Pool[C]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error("pool close panicked", "database", name, "role", string(role), "panic", r)
		}
	}()
	p.Close()
}
