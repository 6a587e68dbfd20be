// Package registry is the process-wide table of open databases. Pools are
// registered once at startup under a logical name, looked up per request and
// closed together at shutdown. The table travels in a context.Context rather
// than living in a package variable.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/pool"
)

var (
	ErrDuplicate = errors.New("registry: database already registered")
	ErrClosed    = errors.New("registry: closed")
)

// Database names a database and fixes, at compile time, the connection type
// C and the pool type P stored under that name.
type Database[C io.Closer, P pool.Pool[C]] struct {
	Name string
}

func Define[C io.Closer, P pool.Pool[C]](name string) Database[C, P] {
	return Database[C, P]{Name: name}
}

type closer interface {
	Close()
}

type Registry struct {
	mu     sync.RWMutex
	dbs    map[string]closer
	order  []string
	closed bool
}

func New() *Registry {
	return &Registry{dbs: make(map[string]closer)}
}

// Register stores p under db.Name. A name can only be registered once.
func Register[C io.Closer, P pool.Pool[C]](r *Registry, db Database[C, P], p P) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.dbs[db.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, db.Name)
	}
	r.dbs[db.Name] = p
	r.order = append(r.order, db.Name)
	return nil
}

// Fetch returns the pool registered under db.Name. It reports false when the
// name is unknown, when the registry is nil, or when the name holds a pool of
// a different type.
func Fetch[C io.Closer, P pool.Pool[C]](r *Registry, db Database[C, P]) (P, bool) {
	var zero P
	if r == nil {
		return zero, false
	}

	r.mu.RLock()
	v, ok := r.dbs[db.Name]
	r.mu.RUnlock()
	if !ok {
		return zero, false
	}
	p, ok := v.(P)
	return p, ok
}

// Contains reports whether anything is registered under name.
func (r *Registry) Contains(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.dbs[name]
	return ok
}

// Info describes one registered database.
type Info struct {
	Name           string `json:"name"`
	HasReplica     bool   `json:"has_replica"`
	Backend        string `json:"backend,omitempty"`
	ReplicaBackend string `json:"replica_backend,omitempty"`
}

// List describes the registered databases in name order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.dbs))
	for name, p := range r.dbs {
		info := Info{Name: name}
		if rp, ok := p.(interface{ HasReplica() bool }); ok {
			info.HasReplica = rp.HasReplica()
		}
		if rp, ok := p.(interface{ Backends() (string, string) }); ok {
			info.Backend, info.ReplicaBackend = rp.Backends()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every registered pool in reverse registration order. A pool
// that panics while closing is logged and does not stop the others.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	dbs, order := r.dbs, r.order
	r.dbs, r.order = map[string]closer{}, nil
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		closeOne(order[i], dbs[order[i]])
	}
}

func closeOne(name string, c closer) {
	defer func() {
		if v := recover(); v != nil {
			logger.Get().Error("registry: close panicked", "database", name, "panic", v)
		}
	}()
	c.Close()
}

type ctxKey struct{}

func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the registry stored by WithRegistry, or nil.
func FromContext(ctx context.Context) *Registry {
	r, _ := ctx.Value(ctxKey{}).(*Registry)
	return r
}
