package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Counters holds the per-database acquisition counters.
type Counters struct {
	MainAcquires    int64
	ReplicaAcquires int64
	FallbackReads   int64
	AcquireErrors   int64
	Unavailable     int64
	Unregistered    int64
	ActiveHandles   int64
}

var (
	mu       sync.RWMutex
	counters = map[string]*Counters{}
)

// For returns the counters for database name, creating them on first use.
func For(name string) *Counters {
	mu.RLock()
	c, ok := counters[name]
	mu.RUnlock()
	if ok {
		return c
	}

	mu.Lock()
	defer mu.Unlock()
	if c, ok = counters[name]; ok {
		return c
	}
	c = &Counters{}
	counters[name] = c
	return c
}

// Reset drops every counter. Tests only.
func Reset() {
	mu.Lock()
	counters = map[string]*Counters{}
	mu.Unlock()
}

func (c *Counters) IncMainAcquires()    { atomic.AddInt64(&c.MainAcquires, 1) }
func (c *Counters) IncReplicaAcquires() { atomic.AddInt64(&c.ReplicaAcquires, 1) }
func (c *Counters) IncFallbackReads()   { atomic.AddInt64(&c.FallbackReads, 1) }
func (c *Counters) IncAcquireErrors()   { atomic.AddInt64(&c.AcquireErrors, 1) }
func (c *Counters) IncUnavailable()     { atomic.AddInt64(&c.Unavailable, 1) }
func (c *Counters) IncUnregistered()    { atomic.AddInt64(&c.Unregistered, 1) }
func (c *Counters) IncActiveHandles()   { atomic.AddInt64(&c.ActiveHandles, 1) }
func (c *Counters) DecActiveHandles()   { atomic.AddInt64(&c.ActiveHandles, -1) }

// Snapshot returns a consistent-enough copy for reporting.
func (c *Counters) Snapshot() Counters {
	return Counters{
		MainAcquires:    atomic.LoadInt64(&c.MainAcquires),
		ReplicaAcquires: atomic.LoadInt64(&c.ReplicaAcquires),
		FallbackReads:   atomic.LoadInt64(&c.FallbackReads),
		AcquireErrors:   atomic.LoadInt64(&c.AcquireErrors),
		Unavailable:     atomic.LoadInt64(&c.Unavailable),
		Unregistered:    atomic.LoadInt64(&c.Unregistered),
		ActiveHandles:   atomic.LoadInt64(&c.ActiveHandles),
	}
}

type family struct {
	name, help, kind string
	value            func(Counters) int64
}

var families = []family{
	{"readpool_main_acquires_total", "Connections acquired from the main pool", "counter", func(c Counters) int64 { return c.MainAcquires }},
	{"readpool_replica_acquires_total", "Connections acquired from the read replica pool", "counter", func(c Counters) int64 { return c.ReplicaAcquires }},
	{"readpool_fallback_reads_total", "Read acquisitions served by the main pool because no replica is configured", "counter", func(c Counters) int64 { return c.FallbackReads }},
	{"readpool_acquire_errors_total", "Acquisitions that failed in the underlying pool", "counter", func(c Counters) int64 { return c.AcquireErrors }},
	{"readpool_handles_unavailable_total", "Handle requests rejected as service unavailable", "counter", func(c Counters) int64 { return c.Unavailable }},
	{"readpool_handles_unregistered_total", "Handle requests for a database that was never registered", "counter", func(c Counters) int64 { return c.Unregistered }},
	{"readpool_active_handles", "Handles currently holding a connection", "gauge", func(c Counters) int64 { return c.ActiveHandles }},
}

// WriteText writes every counter in the Prometheus text exposition format.
func WriteText(w io.Writer) error {
	mu.RLock()
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	snaps := make(map[string]Counters, len(counters))
	for name, c := range counters {
		snaps[name] = c.Snapshot()
	}
	mu.RUnlock()
	sort.Strings(names)

	for _, f := range families {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := fmt.Fprintf(w, "%s{database=%q} %d\n", f.name, name, f.value(snaps[name])); err != nil {
				return err
			}
		}
	}
	return nil
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = WriteText(w)
	}
}
