// Package metrics exposes prometheus collectors for the hub and the HTTP API
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Collector holds the portal's metrics in its own registry, so that more
// than one can exist in a process (e.g. in tests)
type Collector struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	connects    prometheus.Counter
	publishes   *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	drops       *prometheus.CounterVec
	audience    prometheus.Histogram

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New returns a Collector with all metrics registered
func New() *Collector {

	c := &Collector{
		registry: prometheus.NewRegistry(),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connections",
			Help:      "Number of connections registered with the hub",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_connects_total",
			Help:      "Total number of connections registered with the hub",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_publishes_total",
			Help:      "Total number of events published",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_deliveries_total",
			Help:      "Total number of events queued to connections",
		}, []string{"event"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_drops_total",
			Help:      "Total number of connections dropped for falling behind",
		}, []string{"event"}),
		audience: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hub_publish_audience",
			Help:      "Number of room members at the time of each publish",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.connections,
		c.connects,
		c.publishes,
		c.deliveries,
		c.drops,
		c.audience,
		c.requests,
		c.duration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return c
}

// Connected implements hub.Observer
func (c *Collector) Connected() {
	c.connections.Inc()
	c.connects.Inc()
}

// Disconnected implements hub.Observer
func (c *Collector) Disconnected() {
	c.connections.Dec()
}

// Published implements hub.Observer
func (c *Collector) Published(eventType string, audience, delivered int) {
	c.publishes.WithLabelValues(eventType).Inc()
	c.deliveries.WithLabelValues(eventType).Add(float64(delivered))
	c.audience.Observe(float64(audience))
}

// Dropped implements hub.Observer
func (c *Collector) Dropped(eventType string) {
	c.drops.WithLabelValues(eventType).Inc()
}

// Handler returns the prometheus exposition handler for this collector
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Middleware records count and duration of each request, labelled by
// route template rather than path so that patient ids do not become labels
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		c.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush lets event streams pass through the recorder
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets websocket upgrades pass through the recorder
func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
