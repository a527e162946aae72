package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	eventsLoaded    prometheus.Gauge
	decodeErrors    prometheus.Counter
	feedFetches     *prometheus.CounterVec
	exports         *prometheus.CounterVec
	lastExport      prometheus.Gauge
}

// New registers the service collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evcal_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_reloads_total",
			Help: "Event source reloads by outcome",
		}, []string{"result"}),
		eventsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evcal_events_loaded",
			Help: "Number of events in the current snapshot",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evcal_ics_decode_errors_total",
			Help: "VEVENT blocks rejected while decoding feeds and imports",
		}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_feed_fetches_total",
			Help: "Remote feed fetches by feed and outcome",
		}, []string{"feed", "result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_exports_total",
			Help: "Calendar files written by the exporter, by outcome",
		}, []string{"result"}),
		lastExport: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evcal_last_export_timestamp_seconds",
			Help: "Unix time of the last successful export run",
		}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.reloads, m.eventsLoaded,
		m.decodeErrors, m.feedFetches, m.exports, m.lastExport,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, path, s).Inc()
}

// RecordReload tracks a reload of the event source.
func (m *Metrics) RecordReload(events int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloads.WithLabelValues("error").Inc()
		return
	}
	m.reloads.WithLabelValues("ok").Inc()
	m.eventsLoaded.Set(float64(events))
}

func (m *Metrics) AddDecodeErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.decodeErrors.Add(float64(n))
}

// RecordFeedFetch counts a feed fetch; result is "ok", "cache" or "error".
func (m *Metrics) RecordFeedFetch(feed, result string) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(feed, result).Inc()
}

// RecordExport counts written and failed calendar files of one run.
func (m *Metrics) RecordExport(written, failed int, at time.Time) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues("ok").Add(float64(written))
	m.exports.WithLabelValues("error").Add(float64(failed))
	if failed == 0 {
		m.lastExport.Set(float64(at.Unix()))
	}
}
