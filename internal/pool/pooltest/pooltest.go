// Package pooltest provides an in-memory pool.Pool for tests.
package pooltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/readpool/internal/config"
	"github.com/user/readpool/internal/pool"
)

// Conn is a fake connection that remembers which pool produced it.
type Conn struct {
	Pool string
	ID   int

	pool *Pool
}

// Close hands the connection back to its pool.
func (c *Conn) Close() error {
	c.pool.put()
	return nil
}

// Pool counts what is done to it. Set GetErr to make Get fail.
type Pool struct {
	Name string

	mu      sync.Mutex
	getErr  error
	next    int
	gets    int
	puts    int
	closes  int
	section config.Section
}

func New(name string) *Pool {
	return &Pool{Name: name}
}

func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	p.next++
	p.gets++
	return &Conn{Pool: p.Name, ID: p.next, pool: p}, nil
}

func (p *Pool) Close() {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
}

func (p *Pool) put() {
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
}

func (p *Pool) SetGetErr(err error) {
	p.mu.Lock()
	p.getErr = err
	p.mu.Unlock()
}

func (p *Pool) Gets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gets
}

func (p *Pool) Puts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.puts
}

func (p *Pool) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Pool) Backend() string {
	return "pooltest:" + p.Name
}

// Section is the configuration the pool was opened with.
func (p *Pool) Section() config.Section {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.section
}

// Opener returns a pool.Opener that serves the given pools by matching the
// section url against Pool.Name. Unknown urls fail to open.
func Opener(pools ...*Pool) pool.Opener[*Conn] {
	byName := make(map[string]*Pool, len(pools))
	for _, p := range pools {
		byName[p.Name] = p
	}
	return func(ctx context.Context, sec config.Section) (pool.Pool[*Conn], error) {
		pc, err := sec.PoolConfig()
		if err != nil {
			return nil, err
		}
		p, ok := byName[pc.URL]
		if !ok {
			return nil, fmt.Errorf("pooltest: cannot connect to %q", pc.URL)
		}
		p.mu.Lock()
		p.section = sec
		p.mu.Unlock()
		return p, nil
	}
}
