// Package handle hands out request-scoped database connections.
//
// A Read handle is acquired through the replica-aware path of a pool that
// implements pool.ReadRouter: it comes from the read replica when one is
// configured and from the main pool otherwise. A ReadWrite handle always
// comes from the main pool and contains a Read handle, so code written for
// reads can run on it through AsRead, or take it over with IntoRead.
//
// Acquisition failures are classified for the host:
//
//	database never registered -> *Error{Status: 500}, no cause
//	underlying pool failed    -> *Error{Status: 503}, cause attached
//
// Every handle must be released; the usual shape is
//
//	h, err := handle.AcquireRead(ctx, reg, db)
//	if err != nil {
//		return err
//	}
//	defer h.Release()
package handle
