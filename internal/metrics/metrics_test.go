package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCountersConcurrent(t *testing.T) {
	Reset()
	c := For("main")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			For("main").IncMainAcquires()
			c.IncActiveHandles()
			c.DecActiveHandles()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.MainAcquires != 50 {
		t.Errorf("MainAcquires = %d, want 50", snap.MainAcquires)
	}
	if snap.ActiveHandles != 0 {
		t.Errorf("ActiveHandles = %d, want 0", snap.ActiveHandles)
	}
}

func TestHandler(t *testing.T) {
	Reset()
	For("main").IncReplicaAcquires()
	For("reports").IncUnregistered()

	rec := httptest.NewRecorder()
	Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE readpool_replica_acquires_total counter",
		`readpool_replica_acquires_total{database="main"} 1`,
		`readpool_handles_unregistered_total{database="reports"} 1`,
		"# TYPE readpool_active_handles gauge",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\n%s", want, body)
		}
	}
}
