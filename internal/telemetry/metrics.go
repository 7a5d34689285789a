package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the executor's prometheus registry, wiring the
// `prometheus/client_golang` dependency the teacher's go.mod already
// declared but never exercised into the telemetry surface spec §4.5
// describes (system gauges, command-queue counters, broker latency).
type Metrics struct {
	registry *prometheus.Registry

	cpuPercent     prometheus.Gauge
	memoryPercent  prometheus.Gauge
	diskPercent    prometheus.Gauge
	networkLatency prometheus.Gauge

	commandsQueued     prometheus.Gauge
	commandsProcessing prometheus.Gauge
	commandsCompleted  prometheus.Counter
	commandsFailed     prometheus.Counter
	commandDuration    prometheus.Histogram

	activeCommands prometheus.Gauge
	heartbeatsSent prometheus.Counter
	heartbeatsMissed prometheus.Counter
}

// NewMetrics registers every gauge/counter/histogram on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_cpu_percent", Help: "Host CPU utilization percentage.",
		}),
		memoryPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_memory_percent", Help: "Host memory utilization percentage.",
		}),
		diskPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_disk_percent", Help: "Host disk utilization percentage.",
		}),
		networkLatency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_network_latency_ms", Help: "Probed network latency in milliseconds.",
		}),
		commandsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_commands_queued", Help: "Commands awaiting processing.",
		}),
		commandsProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_commands_processing", Help: "Commands currently being processed.",
		}),
		commandsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_commands_completed_total", Help: "Commands completed successfully.",
		}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_commands_failed_total", Help: "Commands that failed or were rejected.",
		}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "executor_command_duration_seconds", Help: "Command processing duration.",
			Buckets: prometheus.DefBuckets,
		}),
		activeCommands: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "executor_active_commands", Help: "Commands in flight right now.",
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_heartbeats_sent_total", Help: "Heartbeats successfully delivered.",
		}),
		heartbeatsMissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "executor_heartbeats_missed_total", Help: "Heartbeats that failed on every transport.",
		}),
	}
	reg.MustRegister(
		m.cpuPercent, m.memoryPercent, m.diskPercent, m.networkLatency,
		m.commandsQueued, m.commandsProcessing, m.commandsCompleted, m.commandsFailed,
		m.commandDuration, m.activeCommands, m.heartbeatsSent, m.heartbeatsMissed,
	)
	return m
}

// ObserveSnapshot pushes one system sample into the CPU/memory/disk/
// latency gauges.
func (m *Metrics) ObserveSnapshot(snap SystemSnapshot) {
	m.cpuPercent.Set(snap.CPUPercent)
	m.memoryPercent.Set(snap.MemoryPercent)
	m.diskPercent.Set(snap.DiskPercent)
	m.networkLatency.Set(snap.NetworkLatencyMS)
}

// CommandQueueStats is the command-queue portion of spec §4.5's
// heartbeat payload.
type CommandQueueStats struct {
	Pending    int
	Processing int
}

// ObserveQueue records the current command-queue depth.
func (m *Metrics) ObserveQueue(stats CommandQueueStats) {
	m.commandsQueued.Set(float64(stats.Pending))
	m.commandsProcessing.Set(float64(stats.Processing))
	m.activeCommands.Set(float64(stats.Processing))
}

// RecordCommandCompleted records a successfully processed command and its
// duration.
func (m *Metrics) RecordCommandCompleted(duration float64) {
	m.commandsCompleted.Inc()
	m.commandDuration.Observe(duration)
}

// RecordCommandFailed records a failed or rejected command.
func (m *Metrics) RecordCommandFailed(duration float64) {
	m.commandsFailed.Inc()
	m.commandDuration.Observe(duration)
}

// RecordHeartbeatSent increments the delivered-heartbeat counter.
func (m *Metrics) RecordHeartbeatSent() { m.heartbeatsSent.Inc() }

// RecordHeartbeatMissed increments the missed-heartbeat counter.
func (m *Metrics) RecordHeartbeatMissed() { m.heartbeatsMissed.Inc() }

// Handler serves the registry in the Prometheus text format;
// DiagnosticsServer mounts it at /debug/metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
