// Package metrics exposes Prometheus counters and histograms for polling,
// MQTT publishing, and discovery scan progress, plus an optional /metrics
// HTTP endpoint.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's Prometheus instruments, registered against a
// private registry rather than the global default so multiple bridges (or
// tests) in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	pollsTotal        *prometheus.CounterVec
	pollErrorsTotal   *prometheus.CounterVec
	pollLatency       *prometheus.HistogramVec
	mqttReconnects    prometheus.Counter
	mqttPublishFailed prometheus.Counter
	scanCandidates    prometheus.Gauge
	scanDevicesFound  prometheus.Gauge
}

// New creates a Metrics instance and registers all instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_polls_total",
			Help: "Total number of successful device polls.",
		}, []string{"device_id"}),
		pollErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_poll_errors_total",
			Help: "Total number of failed device polls.",
		}, []string{"device_id"}),
		pollLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_poll_duration_seconds",
			Help:    "Device poll round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"device_id"}),
		mqttReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_mqtt_reconnects_total",
			Help: "Total number of MQTT broker reconnect events.",
		}),
		mqttPublishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_mqtt_publish_failures_total",
			Help: "Total number of failed MQTT publish attempts.",
		}),
		scanCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_scan_candidates_total",
			Help: "Total candidates in the most recent discovery scan.",
		}),
		scanDevicesFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_scan_devices_found",
			Help: "Devices found by the most recent discovery scan.",
		}),
	}

	registry.MustRegister(
		m.pollsTotal,
		m.pollErrorsTotal,
		m.pollLatency,
		m.mqttReconnects,
		m.mqttPublishFailed,
		m.scanCandidates,
		m.scanDevicesFound,
	)
	return m
}

// RecordPoll records the outcome and latency of one device poll tick.
func (m *Metrics) RecordPoll(deviceID string, err error, duration time.Duration) {
	if err != nil {
		m.pollErrorsTotal.WithLabelValues(deviceID).Inc()
		return
	}
	m.pollsTotal.WithLabelValues(deviceID).Inc()
	m.pollLatency.WithLabelValues(deviceID).Observe(duration.Seconds())
}

// RecordMQTTReconnect increments the broker reconnect counter.
func (m *Metrics) RecordMQTTReconnect() { m.mqttReconnects.Inc() }

// RecordMQTTPublishFailure increments the publish-failure counter.
func (m *Metrics) RecordMQTTPublishFailure() { m.mqttPublishFailed.Inc() }

// RecordScanProgress sets the candidate/found gauges for the in-progress
// or just-finished discovery scan.
func (m *Metrics) RecordScanProgress(candidates, found int) {
	m.scanCandidates.Set(float64(candidates))
	m.scanDevicesFound.Set(float64(found))
}

// Handler returns the HTTP handler serving this Metrics' registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server wraps an http.Server exposing Handler() at /metrics.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) an HTTP server exposing m at
// addr + "/metrics".
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics HTTP server until the context is cancelled, then
// shuts it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
