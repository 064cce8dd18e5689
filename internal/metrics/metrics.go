package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of restart sequences initiated.",
		},
	)
	restartsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "restarts_blocked_total",
			Help:      "Number of restart requests blocked by the cooldown window.",
		},
	)
	restartLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "restart_limit_hits_total",
			Help:      "Number of restart requests that hit the daily restart limit.",
		},
	)
	shutdownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "shutdowns_total",
			Help:      "Number of graceful shutdowns by cause.",
		}, []string{"cause"},
	)
	restartCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "restart_count",
			Help:      "Current restart count within the daily tracking window.",
		},
	)
	heapUsedMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "heap_used_mb",
			Help:      "Last sampled heap usage in MB.",
		},
	)
	rssMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fetchd",
			Subsystem: "supervisor",
			Name:      "rss_mb",
			Help:      "Last sampled resident set size in MB.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{restartsTotal, restartsBlocked, restartLimitHits, shutdownsTotal, restartCount, heapUsedMB, rssMB}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// RegisterDefault registers with the default Prometheus registry.
func RegisterDefault() error { return Register(prometheus.DefaultRegisterer) }

// Handler returns an http.Handler serving the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Serve runs a dedicated metrics listener on addr exposing /metrics.
// It blocks until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRestart() {
	if regOK.Load() {
		restartsTotal.Inc()
	}
}
func IncRestartBlocked() {
	if regOK.Load() {
		restartsBlocked.Inc()
	}
}
func IncRestartLimit() {
	if regOK.Load() {
		restartLimitHits.Inc()
	}
}
func IncShutdown(cause string) {
	if regOK.Load() {
		shutdownsTotal.WithLabelValues(cause).Inc()
	}
}
func SetRestartCount(n int) {
	if regOK.Load() {
		restartCount.Set(float64(n))
	}
}
func SetMemory(heapUsed, rss float64) {
	if regOK.Load() {
		heapUsedMB.Set(heapUsed)
		rssMB.Set(rss)
	}
}
