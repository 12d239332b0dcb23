// Package metrics exposes Prometheus metrics for the watch registry and
// the status API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/listenupapp/fen/internal/sse"
	"github.com/listenupapp/fen/internal/watcher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fen"

// Metrics implements watcher.Recorder and sse.Recorder on its own
// Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	engines         *prometheus.GaugeVec
	subscriptions   prometheus.Gauge
	eventsReceived  *prometheus.CounterVec
	duplicates      prometheus.Counter
	eventsDelivered *prometheus.CounterVec
	callbackPanics  prometheus.Counter
	nativeFailures  prometheus.Counter
	reinits         prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamClients   prometheus.Gauge
	streamDropped   prometheus.Counter
}

var (
	_ watcher.Recorder = (*Metrics)(nil)
	_ sse.Recorder     = (*Metrics)(nil)
)

// New creates the metrics and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		engines: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines",
			Help:      "Number of watch engines by state",
		}, []string{"state"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Number of live subscriptions",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Raw events received from native watches",
		}, []string{"type"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consolidated_total",
			Help:      "Raw events absorbed by consolidation",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events delivered to subscriber callbacks",
		}, []string{"type"}),
		callbackPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_panics_total",
			Help:      "Subscriber callbacks that panicked",
		}),
		nativeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "native_failures_total",
			Help:      "Errors reported by native watches",
		}),
		reinits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinitializations_total",
			Help:      "Native watches torn down and recreated",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status API request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected event stream clients",
		}),
		streamDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_dropped_total",
			Help:      "Stream events dropped for full queues or slow clients",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.engines,
		m.subscriptions,
		m.eventsReceived,
		m.duplicates,
		m.eventsDelivered,
		m.callbackPanics,
		m.nativeFailures,
		m.reinits,
		m.requests,
		m.requestDuration,
		m.streamClients,
		m.streamDropped,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EngineStateChanged moves one engine between the per-state gauges.
func (m *Metrics) EngineStateChanged(from, to watcher.State) {
	if from >= watcher.StatePending && from != watcher.StateDisposed {
		m.engines.WithLabelValues(from.String()).Dec()
	}
	if to != watcher.StateDisposed {
		m.engines.WithLabelValues(to.String()).Inc()
	}
}

func (m *Metrics) SubscriptionsChanged(delta int) {
	m.subscriptions.Add(float64(delta))
}

func (m *Metrics) EventReceived(t watcher.EventType) {
	m.eventsReceived.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) DuplicatesDropped(n int) {
	m.duplicates.Add(float64(n))
}

func (m *Metrics) EventDispatched(t watcher.EventType) {
	m.eventsDelivered.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) CallbackPanicked() { m.callbackPanics.Inc() }
func (m *Metrics) NativeFailure()    { m.nativeFailures.Inc() }
func (m *Metrics) Reinitialized()    { m.reinits.Inc() }

// ObserveRequest records one status API request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) StreamClientsChanged(delta int) {
	m.streamClients.Add(float64(delta))
}

func (m *Metrics) StreamEventDropped() { m.streamDropped.Inc() }
