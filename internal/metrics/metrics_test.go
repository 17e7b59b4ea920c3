package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
	"github.com/awaistahir/smart-sprinkler/internal/store"
)

// value returns the value of the sample of family name whose labels include want
func value(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	RegisterDefault()

	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	n := Notifier{}
	start := time.Date(2024, 6, 11, 3, 0, 0, 0, time.UTC)

	n.Notify(ctx, notify.Event{Kind: notify.RunStarted, ZoneID: 41})
	n.Notify(ctx, notify.Event{Kind: notify.CycleStarted, ZoneID: 41})
	n.Notify(ctx, notify.Event{Kind: notify.CycleStarted, ZoneID: 41})
	n.Notify(ctx, notify.Event{Kind: notify.ScheduleUpdated, ZoneID: 41, Depletion: 23.5, Next: &engine.Window{Start: start, Duration: 60}})

	if got := value(t, "sprinkler_runs_total", map[string]string{"zone": "41", "event": "run_started"}); got != 1 {
		t.Errorf("runs = %v, want 1", got)
	}
	if got := value(t, "sprinkler_cycles_total", map[string]string{"zone": "41"}); got != 2 {
		t.Errorf("cycles = %v, want 2", got)
	}
	if got := value(t, "sprinkler_root_zone_depletion_mm", map[string]string{"zone": "41"}); got != 23.5 {
		t.Errorf("depletion = %v, want 23.5", got)
	}
	if got := value(t, "sprinkler_next_run_timestamp_seconds", map[string]string{"zone": "41"}); got != float64(start.Unix()) {
		t.Errorf("next run = %v, want %d", got, start.Unix())
	}

	n.Notify(ctx, notify.Event{Kind: notify.ScheduleUpdated, ZoneID: 41})
	if got := value(t, "sprinkler_next_run_timestamp_seconds", map[string]string{"zone": "41"}); got != 0 {
		t.Errorf("next run = %v, want 0 without a window", got)
	}
}

type failingStore struct{ store.Store }

func (failingStore) GetDocument(context.Context, string) ([]byte, error) {
	return nil, store.ErrNotFound
}

func (failingStore) PutDocument(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestInstrumentStore(t *testing.T) {
	s := InstrumentStore(failingStore{})
	before := value(t, "sprinkler_store_errors_total", map[string]string{"op": "put"})
	beforeGet := value(t, "sprinkler_store_errors_total", map[string]string{"op": "get"})

	s.PutDocument(context.Background(), "zone/1", nil)
	s.GetDocument(context.Background(), "zone/1")

	if got := value(t, "sprinkler_store_errors_total", map[string]string{"op": "put"}); got != before+1 {
		t.Errorf("put errors = %v, want %v", got, before+1)
	}
	if got := value(t, "sprinkler_store_errors_total", map[string]string{"op": "get"}); got != beforeGet {
		t.Errorf("a missing document counted as a get error")
	}
}

type brokenValve struct{}

func (brokenValve) Open(context.Context, int, time.Duration) error { return errors.New("stuck") }
func (brokenValve) Close(context.Context, int) error               { return nil }

func TestInstrumentValve(t *testing.T) {
	v := InstrumentValve(brokenValve{})
	v.Open(context.Background(), 77, time.Minute)
	v.Close(context.Background(), 77)

	if got := value(t, "sprinkler_valve_errors_total", map[string]string{"zone": "77", "action": "open"}); got != 1 {
		t.Errorf("open errors = %v, want 1", got)
	}
	if got := value(t, "sprinkler_valve_errors_total", map[string]string{"zone": "77", "action": "close"}); got != 0 {
		t.Errorf("close errors = %v, want 0", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/zones/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/zones/"+string(rune('1'+i)), nil))
	}

	labels := map[string]string{"method": "GET", "path": "/api/zones/{id}", "status": "418"}
	if got := value(t, "sprinkler_http_requests_total", labels); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sprinkler_http_request_duration_seconds") {
		t.Error("metrics output is missing the request histogram")
	}
}
