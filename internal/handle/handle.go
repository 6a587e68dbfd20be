package handle

import (
	"context"
	"io"
	"sync"

	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/metrics"
	"github.com/user/readpool/internal/pool"
	"github.com/user/readpool/internal/registry"
)

// ReadPooler is a pool that supports replica routing with main fallback.
// Only such pools can hand out Read handles directly.
type ReadPooler[C any] interface {
	pool.Pool[C]
	pool.ReadRouter[C]
}

// Read owns one connection obtained through the read path.
type Read[C io.Closer] struct {
	conn C
	db   string
	once sync.Once
}

// ReadWrite owns one connection obtained from the main pool. It is not a
// Read; use AsRead or IntoRead to get one.
type ReadWrite[C io.Closer] struct {
	read *Read[C]
}

// Available reports whether anything is registered under name. It does not
// promise that acquisition will succeed.
func Available(reg *registry.Registry, name string) bool {
	return reg.Contains(name)
}

// AcquireRead looks db up in reg and takes a connection from its read path.
func AcquireRead[C io.Closer, P ReadPooler[C]](ctx context.Context, reg *registry.Registry, db registry.Database[C, P]) (*Read[C], error) {
	p, ok := registry.Fetch(reg, db)
	if !ok {
		return nil, failNotRegistered(ctx, db.Name)
	}
	conn, err := p.GetRead(ctx)
	if err != nil {
		return nil, failUnavailable(ctx, db.Name, err)
	}
	return newRead(db.Name, conn), nil
}

// AcquireReadWrite looks db up in reg and takes a connection from its main
// pool. Any pool type works here; replica support is not required.
func AcquireReadWrite[C io.Closer, P pool.Pool[C]](ctx context.Context, reg *registry.Registry, db registry.Database[C, P]) (*ReadWrite[C], error) {
	p, ok := registry.Fetch(reg, db)
	if !ok {
		return nil, failNotRegistered(ctx, db.Name)
	}
	conn, err := p.Get(ctx)
	if err != nil {
		return nil, failUnavailable(ctx, db.Name, err)
	}
	return &ReadWrite[C]{read: newRead(db.Name, conn)}, nil
}

func failNotRegistered(ctx context.Context, name string) error {
	metrics.For(name).IncUnregistered()
	logger.FromContext(ctx).Error("database not registered", "database", name)
	return notRegistered(name)
}

func failUnavailable(ctx context.Context, name string, err error) error {
	metrics.For(name).IncUnavailable()
	logger.FromContext(ctx).WarnWithErr("connection unavailable", err, "database", name)
	return unavailable(name, err)
}

func newRead[C io.Closer](db string, conn C) *Read[C] {
	metrics.For(db).IncActiveHandles()
	return &Read[C]{conn: conn, db: db}
}

// Conn returns the connection without giving up ownership.
func (h *Read[C]) Conn() C {
	return h.conn
}

// Database is the logical database name the handle was acquired for.
func (h *Read[C]) Database() string {
	return h.db
}

// IntoInner hands the connection to the caller, who becomes responsible for
// closing it. The handle's Release becomes a no-op.
func (h *Read[C]) IntoInner() C {
	h.once.Do(func() {
		metrics.For(h.db).DecActiveHandles()
	})
	return h.conn
}

// Release returns the connection to its pool. Only the first call, and only
// while the handle still owns the connection, has an effect.
func (h *Read[C]) Release() error {
	var err error
	h.once.Do(func() {
		metrics.For(h.db).DecActiveHandles()
		err = h.conn.Close()
	})
	return err
}

func (h *ReadWrite[C]) Conn() C {
	return h.read.conn
}

func (h *ReadWrite[C]) Database() string {
	return h.read.db
}

// AsRead lends out the contained Read handle. The ReadWrite keeps ownership;
// releasing either releases the one shared connection.
func (h *ReadWrite[C]) AsRead() *Read[C] {
	return h.read
}

// IntoRead turns the handle into its Read handle. The connection is carried
// over as is; nothing is acquired or rerouted. h must not be used afterwards.
func (h *ReadWrite[C]) IntoRead() *Read[C] {
	r := h.read
	h.read = &Read[C]{db: r.db}
	h.read.once.Do(func() {})
	return r
}

func (h *ReadWrite[C]) IntoInner() C {
	return h.read.IntoInner()
}

func (h *ReadWrite[C]) Release() error {
	return h.read.Release()
}
