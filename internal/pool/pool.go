package pool

import (
	"context"
	"fmt"

	"github.com/user/readpool/internal/config"
)

// Pool is what readpool needs from an underlying connection pool. Get may
// block until a connection slot frees up or ctx is done; Close releases the
// pool and reports nothing.
type Pool[C any] interface {
	Get(ctx context.Context) (C, error)
	Close()
}

// Opener builds an underlying pool from one configuration section.
type Opener[C any] func(ctx context.Context, sec config.Section) (Pool[C], error)

// ReadRouter is implemented by pools that can send read traffic somewhere
// other than the main pool.
type ReadRouter[C any] interface {
	GetRead(ctx context.Context) (C, error)
}

type Role string

const (
	RoleMain Role = "main"
	RoleRead Role = "read"
)

// InitError reports which of the two pools of a database failed to build.
type InitError struct {
	Database string
	Role     Role
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("database %q: init %s pool: %v", e.Database, e.Role, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
