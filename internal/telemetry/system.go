// Package telemetry collects system and connection metrics, evaluates
// alert rules against them, and drives the heartbeat loop that reports
// the executor's health back to the control plane (spec §4.5).
package telemetry

import (
	"context"
	"net"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSnapshot is one sample of host resource usage plus a probed
// network latency, the same fields spec §4.5 lists as heartbeat inputs.
type SystemSnapshot struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskPercent      float64
	NetworkLatencyMS float64
	SampledAt        time.Time
}

// Collector samples host system stats via gopsutil, mirroring
// aristath-sentinel's getSystemStats (cpu.Percent + mem.VirtualMemory),
// extended with a disk sample and a TCP-dial latency probe since the
// spec also tracks disk % and network latency.
type Collector struct {
	diskPath    string
	latencyAddr string
	dialTimeout time.Duration
}

// NewCollector builds a Collector. diskPath is the filesystem root to
// sample (e.g. "/"); latencyAddr is a host:port dialed to estimate
// network latency (typically the broker bridge or control-plane host).
func NewCollector(diskPath, latencyAddr string) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{diskPath: diskPath, latencyAddr: latencyAddr, dialTimeout: 2 * time.Second}
}

// Collect samples CPU, memory, disk, and network latency. Any single
// probe failing does not fail the whole snapshot — it is left at zero so
// a flaky gopsutil call on one platform never blocks the heartbeat.
func (c *Collector) Collect(ctx context.Context) SystemSnapshot {
	snap := SystemSnapshot{SampledAt: time.Now()}

	if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, c.diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
	}

	if c.latencyAddr != "" {
		snap.NetworkLatencyMS = c.probeLatency()
	}

	return snap
}

func (c *Collector) probeLatency() float64 {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", c.latencyAddr, c.dialTimeout)
	if err != nil {
		return 0
	}
	defer conn.Close()
	return float64(time.Since(start).Microseconds()) / 1000.0
}
