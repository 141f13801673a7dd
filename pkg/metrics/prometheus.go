package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder is the Prometheus-backed Recorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	activeClients     prometheus.Gauge
	connsAccepted     prometheus.Counter
	connsClosed       prometheus.Counter
	connsForceClosed  prometheus.Counter
	storageActive     prometheus.Gauge
	storageRegistered prometheus.Gauge
	heartbeatFailures *prometheus.CounterVec
	searchLookups     *prometheus.CounterVec
	fallbackReads     *prometheus.CounterVec
}

// NewPrometheusRecorder builds a Recorder on a fresh registry with the Go
// runtime and process collectors attached.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &PrometheusRecorder{
		registry: reg,

		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftns_requests_total",
				Help: "Total client operations by wire operation and response status",
			},
			[]string{"operation", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftns_request_duration_milliseconds",
				Help:    "Client operation processing time in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"operation"},
		),

		activeClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "driftns_active_clients",
			Help: "Currently connected clients",
		}),
		connsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "driftns_connections_accepted_total",
			Help: "Total accepted TCP connections",
		}),
		connsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "driftns_connections_closed_total",
			Help: "Total closed TCP connections",
		}),
		connsForceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "driftns_connections_force_closed_total",
			Help: "Connections closed forcibly after the shutdown drain timeout",
		}),
		storageActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "driftns_storage_servers_active",
			Help: "Storage servers currently active",
		}),
		storageRegistered: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "driftns_storage_servers_registered",
			Help: "Storage servers ever registered this process run",
		}),
		heartbeatFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftns_heartbeat_failures_total",
				Help: "Heartbeat failures by storage server",
			},
			[]string{"ss_id"},
		),
		searchLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftns_search_lookups_total",
				Help: "Search memo lookups by outcome",
			},
			[]string{"outcome"}, // hit, miss
		),
		fallbackReads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftns_fallback_reads_total",
				Help: "Reads served off the fallback chain by source",
			},
			[]string{"source"}, // cache, backup, failover, none
		),
	}
}

// Registry exposes the underlying registry for the HTTP handler.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusRecorder) RecordRequest(operation, status string, duration time.Duration) {
	p.requests.WithLabelValues(operation, status).Inc()
	p.requestDuration.WithLabelValues(operation).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (p *PrometheusRecorder) SetActiveClients(count int32) {
	p.activeClients.Set(float64(count))
}

func (p *PrometheusRecorder) RecordConnectionAccepted() {
	p.connsAccepted.Inc()
}

func (p *PrometheusRecorder) RecordConnectionClosed() {
	p.connsClosed.Inc()
}

func (p *PrometheusRecorder) RecordConnectionForceClosed() {
	p.connsForceClosed.Inc()
}

func (p *PrometheusRecorder) SetStorageServers(active, registered int) {
	p.storageActive.Set(float64(active))
	p.storageRegistered.Set(float64(registered))
}

func (p *PrometheusRecorder) RecordHeartbeatFailure(ssid string) {
	p.heartbeatFailures.WithLabelValues(ssid).Inc()
}

func (p *PrometheusRecorder) RecordSearch(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	p.searchLookups.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) RecordFallback(source string) {
	p.fallbackReads.WithLabelValues(source).Inc()
}
