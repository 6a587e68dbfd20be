package handle

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotRegistered matches, via errors.Is, the Error returned for a database
// that was never registered.
var ErrNotRegistered = errors.New("handle: database not registered")

// Error is an acquisition failure classified by HTTP status. Err is the
// underlying pool error for 503 and nil for 500.
type Error struct {
	Database string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("database %q: %s", e.Database, http.StatusText(e.Status))
	}
	return fmt.Sprintf("database %q: %s: %v", e.Database, http.StatusText(e.Status), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrNotRegistered && e.Status == http.StatusInternalServerError
}

func notRegistered(name string) *Error {
	return &Error{Database: name, Status: http.StatusInternalServerError}
}

func unavailable(name string, err error) *Error {
	return &Error{Database: name, Status: http.StatusServiceUnavailable, Err: err}
}

// StatusOf returns the HTTP status carried by err, or 500 for any other error.
func StatusOf(err error) int {
	var he *Error
	if errors.As(err, &he) {
		return he.Status
	}
	return http.StatusInternalServerError
}
