// Package metrics exposes Prometheus collectors for hosts and their requests.
package metrics

import (
	"net/http"
	"time"

	"github.com/caffeineduck/gorupad/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements executor.Observer. One value can be shared by every host
// a server runs.
type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	PackagesInstalled prometheus.Counter
	HostsConnected    prometheus.Gauge
}

// New registers the collectors on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gorupad_requests_total",
				Help: "Requests handled by hosts, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gorupad_request_duration_seconds",
				Help:    "Time from dequeue to terminal event",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"type"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gorupad_requests_in_flight",
				Help: "Requests currently being processed",
			},
		),
		PackagesInstalled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gorupad_packages_installed_total",
				Help: "Packages loaded into interpreters",
			},
		),
		HostsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gorupad_hosts_connected",
				Help: "Hosts currently serving a websocket client",
			},
		),
	}
}

func (m *Metrics) RequestStarted(kind protocol.RequestType) {
	m.RequestsInFlight.Inc()
}

func (m *Metrics) RequestFinished(kind protocol.RequestType, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RequestsInFlight.Dec()
	m.Requests.WithLabelValues(string(kind), outcome).Inc()
	m.RequestDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) PackageInstalled(name string) {
	m.PackagesInstalled.Inc()
}

func (m *Metrics) HostConnected()    { m.HostsConnected.Inc() }
func (m *Metrics) HostDisconnected() { m.HostsConnected.Dec() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
