package watcher

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
	"github.com/coco-alen/gpu-usage-view/internal/monitor"
	"github.com/coco-alen/gpu-usage-view/internal/remind"
)

// Metrics exports poll results for Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	polls          *prometheus.CounterVec
	pollDuration   *prometheus.HistogramVec
	up             *prometheus.GaugeVec
	gpuUtil        *prometheus.GaugeVec
	memUtil        *prometheus.GaugeVec
	temperature    *prometheus.GaugeVec
	alerts         *prometheus.CounterVec
	announceErrors *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuview_polls_total",
			Help: "Polls per server, by result (ok or the error code).",
		}, []string{"server", "result"}),
		pollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpuview_poll_duration_seconds",
			Help:    "Wall-clock time of one poll including the SSH round trip.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"server"}),
		up: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpuview_server_up",
			Help: "1 if the last poll of the server succeeded.",
		}, []string{"server"}),
		gpuUtil: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpuview_gpu_utilization_percent",
			Help: "Compute utilization per GPU from the last successful poll.",
		}, []string{"server", "gpu", "name"}),
		memUtil: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpuview_gpu_memory_utilization_percent",
			Help: "Memory occupancy per GPU from the last successful poll.",
		}, []string{"server", "gpu", "name"}),
		temperature: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpuview_gpu_temperature_celsius",
			Help: "Temperature per GPU from the last successful poll.",
		}, []string{"server", "gpu", "name"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuview_alerts_total",
			Help: "Reminders fired, by kind.",
		}, []string{"server", "kind"}),
		announceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuview_announce_failures_total",
			Help: "Reminders that could not be delivered.",
		}, []string{"server"}),
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one poll. snap is nil when err is set.
func (m *Metrics) ObservePoll(server string, snap *monitor.Snapshot, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	m.pollDuration.WithLabelValues(server).Observe(elapsed.Seconds())

	// Drop the old per-GPU series so removed or renamed devices don't linger.
	m.gpuUtil.DeletePartialMatch(prometheus.Labels{"server": server})
	m.memUtil.DeletePartialMatch(prometheus.Labels{"server": server})
	m.temperature.DeletePartialMatch(prometheus.Labels{"server": server})

	if err != nil {
		code := errors.CodeOf(err)
		if code == "" {
			code = "unknown"
		}
		m.polls.WithLabelValues(server, code).Inc()
		m.up.WithLabelValues(server).Set(0)
		return
	}

	m.polls.WithLabelValues(server, "ok").Inc()
	m.up.WithLabelValues(server).Set(1)
	for _, r := range snap.Records {
		gpu := strconv.Itoa(r.Index)
		m.gpuUtil.WithLabelValues(server, gpu, r.Name).Set(r.GPUUtil)
		m.memUtil.WithLabelValues(server, gpu, r.Name).Set(r.MemoryUtil)
		m.temperature.WithLabelValues(server, gpu, r.Name).Set(r.Temperature)
	}
}

// ObserveAlert records a fired reminder and whether delivery failed.
func (m *Metrics) ObserveAlert(server string, kind remind.AlertKind, err error) {
	if m == nil || kind == remind.AlertNone {
		return
	}
	m.alerts.WithLabelValues(server, kind.String()).Inc()
	if err != nil {
		m.announceErrors.WithLabelValues(server).Inc()
	}
}
