// Package metrics provides Prometheus metrics for go-efm-ctl.
//
// Every operation is counted by outcome and timed. Streaming operations also
// count delivered and filtered lines. The watch command adds poll metrics and
// serves everything on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "efm_ctl"

// Collector manages all Prometheus metrics for go-efm-ctl.
type Collector struct {
	registry *prometheus.Registry

	info               *prometheus.GaugeVec
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	lastExitCode       *prometheus.GaugeVec
	inFlight           prometheus.Gauge
	permissionDenied   *prometheus.CounterVec
	streamLinesTotal   *prometheus.CounterVec
	streamDroppedTotal *prometheus.CounterVec
	configReloadsTotal *prometheus.CounterVec

	watchPollsTotal   *prometheus.CounterVec
	watchStatusLines  prometheus.Gauge
	watchLastPollTime prometheus.Gauge
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Cluster string

	// RuntimeMetrics adds the Go runtime and process collectors.
	RuntimeMetrics bool
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector registered on registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "info",
				Help:      "Build and cluster information (value always 1)",
			},
			[]string{"version", "cluster"},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Operations run, by outcome (ok, nonzero, error)",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time from spawn to exit",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		lastExitCode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operation_last_exit_code",
				Help:      "Exit code of the most recent run (-1 = did not run)",
			},
			[]string{"operation"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "operations_in_flight",
				Help:      "Operations currently holding a configuration lease",
			},
		),
		permissionDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_denied_total",
				Help:      "Calls rejected by the privilege gate",
			},
			[]string{"operation"},
		),
		streamLinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_lines_total",
				Help:      "Lines delivered by streaming operations",
			},
			[]string{"operation"},
		),
		streamDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_filtered_lines_total",
				Help:      "Lines removed by a stream filter",
			},
			[]string{"operation"},
		),
		configReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reload attempts, by result",
			},
			[]string{"result"},
		),

		watchPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_polls_total",
				Help:      "cluster-status polls made by watch, by outcome",
			},
			[]string{"outcome"},
		),
		watchStatusLines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watch_status_lines",
				Help:      "Lines returned by the most recent cluster-status poll",
			},
		),
		watchLastPollTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watch_last_poll_timestamp_seconds",
				Help:      "Unix time of the most recent cluster-status poll",
			},
		),
	}

	registry.MustRegister(
		c.info,
		c.operationsTotal,
		c.operationDuration,
		c.lastExitCode,
		c.inFlight,
		c.permissionDenied,
		c.streamLinesTotal,
		c.streamDroppedTotal,
		c.configReloadsTotal,
		c.watchPollsTotal,
		c.watchStatusLines,
		c.watchLastPollTime,
	)
	if cfg.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c.info.WithLabelValues(cfg.Version, cfg.Cluster).Set(1)
	return c
}

// Registry returns the registry the collector is registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// OperationStarted marks an operation as in flight.
func (c *Collector) OperationStarted() {
	c.inFlight.Inc()
}

// RecordOperation records a finished operation.
// outcome is one of "ok", "nonzero" or "error".
func (c *Collector) RecordOperation(op, outcome string, exitCode int, d time.Duration) {
	c.inFlight.Dec()
	c.operationsTotal.WithLabelValues(op, outcome).Inc()
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
	c.lastExitCode.WithLabelValues(op).Set(float64(exitCode))
}

// RecordPermissionDenied counts a call rejected before it started.
func (c *Collector) RecordPermissionDenied(op string) {
	c.permissionDenied.WithLabelValues(op).Inc()
	c.operationsTotal.WithLabelValues(op, "error").Inc()
}

// RecordRejected counts a call that failed validation before it started.
func (c *Collector) RecordRejected(op string) {
	c.operationsTotal.WithLabelValues(op, "error").Inc()
}

// RecordStream adds line counters for a finished stream.
func (c *Collector) RecordStream(op string, lines, dropped int) {
	c.streamLinesTotal.WithLabelValues(op).Add(float64(lines))
	c.streamDroppedTotal.WithLabelValues(op).Add(float64(dropped))
}

// RecordReload counts a configuration reload attempt.
func (c *Collector) RecordReload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.configReloadsTotal.WithLabelValues(result).Inc()
}

// RecordPoll records one watch poll.
func (c *Collector) RecordPoll(outcome string, lines int, at time.Time) {
	c.watchPollsTotal.WithLabelValues(outcome).Inc()
	c.watchStatusLines.Set(float64(lines))
	c.watchLastPollTime.Set(float64(at.Unix()))
}

// SetCluster replaces the info label after a configuration reload.
func (c *Collector) SetCluster(version, cluster string) {
	c.info.Reset()
	c.info.WithLabelValues(version, cluster).Set(1)
}
