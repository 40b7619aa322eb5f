package devserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics uses a private registry so several servers can live in one process.
type metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	broadcasts    *prometheus.CounterVec
	inbound       *prometheus.CounterVec
	clients       prometheus.Gauge
	assistantRuns *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "http_requests_total",
			Help:      "REST requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "helix",
			Name:      "http_request_duration_seconds",
			Help:      "REST request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "push_broadcasts_total",
			Help:      "Push frames broadcast by event name.",
		}, []string{"event"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "push_inbound_total",
			Help:      "Push frames received from clients by event name.",
		}, []string{"event"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "helix",
			Name:      "push_clients",
			Help:      "Connected push clients.",
		}),
		assistantRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helix",
			Name:      "assistant_runs_total",
			Help:      "Assistant turns by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(m.requests, m.latency, m.broadcasts, m.inbound, m.clients, m.assistantRuns)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument is mux middleware recording count and latency per route template.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
