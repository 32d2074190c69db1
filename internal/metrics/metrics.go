// Package metrics holds the Prometheus collectors of the map server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "casemap_sessions_active",
		Help: "Number of live map sessions",
	})
	SessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casemap_sessions_total",
		Help: "Total map sessions created",
	})
	SessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casemap_sessions_expired_total",
		Help: "Total map sessions closed by the idle reaper",
	})
	EngineCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casemap_engine_commands_total",
		Help: "Engine commands issued, by op",
	}, []string{"op"})
	StreamDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casemap_stream_drops_total",
		Help: "Stream subscribers dropped for falling behind",
	})
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casemap_lookups_total",
		Help: "Upstream lookups by kind and outcome",
	}, []string{"kind", "outcome"})
	LookupDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casemap_lookup_duration_ms",
		Help:    "Upstream lookup duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"kind"})
	PostcodeCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casemap_postcode_cache_total",
		Help: "Postcode cache lookups by result",
	}, []string{"result"})
	ExportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casemap_exports_total",
		Help: "PNG exports rendered",
	})
)

func init() {
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsExpiredTotal)
	prometheus.MustRegister(EngineCommandsTotal)
	prometheus.MustRegister(StreamDropsTotal)
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(PostcodeCacheTotal)
	prometheus.MustRegister(ExportsTotal)
}

// Outcome labels a lookup result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the registered collectors.
func Handler() http.Handler { return promhttp.Handler() }
