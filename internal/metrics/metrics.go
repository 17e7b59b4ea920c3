// Package metrics exposes Prometheus collectors for zones, forecasts and the API
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the daemon
	Registry = prometheus.NewRegistry()

	// Runs counts run lifecycle events by zone and event kind
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_runs_total", Help: "Irrigation run events by zone and event."},
		[]string{"zone", "event"},
	)
	// Cycles counts started watering cycles
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_cycles_total", Help: "Watering cycles started."},
		[]string{"zone"},
	)
	// Depletion is the current root zone depletion
	Depletion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "sprinkler_root_zone_depletion_mm", Help: "Root zone depletion Dr in mm."},
		[]string{"zone"},
	)
	// NextRun is the start of the next window, 0 when none
	NextRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "sprinkler_next_run_timestamp_seconds", Help: "Unix time of the next scheduled run, 0 if none."},
		[]string{"zone"},
	)
	// ForecastFetches counts forecast fetches by result
	ForecastFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_forecast_fetch_total", Help: "Forecast fetches by result."},
		[]string{"result"},
	)
	// StoreErrors counts failed store operations
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_store_errors_total", Help: "Failed store operations by operation."},
		[]string{"op"},
	)
	// ValveErrors counts failed valve commands
	ValveErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_valve_errors_total", Help: "Failed valve commands by zone and action."},
		[]string{"zone", "action"},
	)

	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sprinkler_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "sprinkler_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers every collector on Registry
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Runs, Cycles, Depletion, NextRun)
		Registry.MustRegister(ForecastFetches, StoreErrors, ValveErrors)
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
