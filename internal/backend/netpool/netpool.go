// Package netpool is a bounded pool of raw TCP connections. Slots are
// limited by a weighted semaphore, so Get blocks while the pool is exhausted
// and fails with ErrAcquireTimeout once connect_timeout elapses.
package netpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/logger"
	"github.com/user/readpool/internal/pool"
)

var (
	ErrPoolClosed     = errors.New("netpool: pool closed")
	ErrAcquireTimeout = errors.New("netpool: timed out waiting for a connection slot")
)

const defaultCleanupInterval = 30 * time.Second

// Conn is a checked-out connection. Close hands it back to its pool; Discard
// drops it for good. A Conn is never reused after either call.
type Conn struct {
	net.Conn
	pool *Pool
	done atomic.Bool
}

type idleConn struct {
	conn     net.Conn
	lastUsed time.Time
}

// Close returns the connection to the pool. Calling it twice is a no-op.
func (c *Conn) Close() error {
	if !c.done.CompareAndSwap(false, true) {
		return nil
	}
	c.pool.put(c)
	return nil
}

// Discard closes the underlying connection and frees its slot.
func (c *Conn) Discard() error {
	if !c.done.CompareAndSwap(false, true) {
		return nil
	}
	err := c.Conn.Close()
	c.pool.release()
	return err
}

type Pool struct {
	address        string
	idle           chan idleConn
	slots          *semaphore.Weighted
	maxSize        int
	connectTimeout time.Duration
	idleTimeout    time.Duration
	inUse          atomic.Int64

	mu     sync.Mutex
	closed bool
	quit   chan struct{}
}

// Open is a pool.Opener for TCP databases.
func Open(ctx context.Context, sec config.Section) (pool.Pool[*Conn], error) {
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

// New dials min_connections (at least one) up front so a bad address fails
// at startup instead of on the first request.
func New(ctx context.Context, pc config.PoolConfig) (*Pool, error) {
	address := strings.TrimPrefix(pc.URL, "tcp://")
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("netpool: invalid address %q: %w", pc.URL, err)
	}

	p := &Pool{
		address:        address,
		idle:           make(chan idleConn, pc.MaxConnections),
		slots:          semaphore.NewWeighted(int64(pc.MaxConnections)),
		maxSize:        pc.MaxConnections,
		connectTimeout: pc.ConnectTimeoutDuration(),
		idleTimeout:    pc.IdleTimeoutDuration(),
		quit:           make(chan struct{}),
	}

	warm := max(pc.MinConnections, 1)
	for i := 0; i < warm; i++ {
		conn, err := p.dial(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("netpool: connect %s: %w", address, err)
		}
		p.idle <- idleConn{conn: conn, lastUsed: time.Now()}
	}

	if p.idleTimeout > 0 {
		go p.cleanupIdleConnections(min(p.idleTimeout, defaultCleanupInterval))
	}
	return p, nil
}

func (p *Pool) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()
	var d net.Dialer
	return d.DialContext(ctx, "tcp", p.address)
}

// Get takes an idle connection or dials a new one. It waits for a free slot
// for at most connect_timeout; cancellation of ctx is returned unchanged.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	if err := p.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s (%s)", ErrAcquireTimeout, p.connectTimeout, p.address)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.slots.Release(1)
		return nil, ErrPoolClosed
	}

	for {
		select {
		case ic := <-p.idle:
			if !isConnAlive(ic.conn) {
				_ = ic.conn.Close()
				continue
			}
			p.inUse.Add(1)
			return &Conn{Conn: ic.conn, pool: p}, nil
		default:
			conn, err := p.dial(ctx)
			if err != nil {
				p.slots.Release(1)
				return nil, err
			}
			p.inUse.Add(1)
			return &Conn{Conn: conn, pool: p}, nil
		}
	}
}

func (p *Pool) put(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.release()

	if p.closed {
		_ = c.Conn.Close()
		return
	}
	select {
	case p.idle <- idleConn{conn: c.Conn, lastUsed: time.Now()}:
	default:
		_ = c.Conn.Close()
	}
}

func (p *Pool) release() {
	p.inUse.Add(-1)
	p.slots.Release(1)
}

// Close closes every idle connection. Connections still checked out are
// closed when they are handed back.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.quit)

	for {
		select {
		case ic := <-p.idle:
			if err := ic.conn.Close(); err != nil {
				logger.Get().WarnWithErr("netpool: close idle connection", err, "address", p.address)
			}
		default:
			return
		}
	}
}

// Stats reports idle and checked-out connection counts.
func (p *Pool) Stats() (idle, inUse int) {
	return len(p.idle), int(p.inUse.Load())
}

func (p *Pool) Backend() string {
	return "tcp://" + p.address
}

// isConnAlive probes with a 1ms read deadline: a timeout means the peer is
// still there and silent, anything else (EOF, reset, stray bytes) means the
// connection cannot be reused.
func isConnAlive(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})

	var b [1]byte
	_, err := conn.Read(b[:])
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (p *Pool) cleanupIdleConnections(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case ic := <-p.idle:
			if time.Since(ic.lastUsed) > p.idleTimeout {
				_ = ic.conn.Close()
				continue
			}
			select {
			case p.idle <- ic:
			default:
				_ = ic.conn.Close()
			}
		default:
			return
		}
	}
}
