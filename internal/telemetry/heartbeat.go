package telemetry

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
)

const (
	defaultHeartbeatInterval     = 60 * time.Second
	recoveryAfterConsecutiveFail = 3
)

// RESTReporter is the subset of fabric.ControlPlaneREST the heartbeat
// loop needs.
type RESTReporter interface {
	Heartbeat(ctx context.Context, payload types.HeartbeatPayload) (types.HeartbeatResponse, error)
}

// PushSender is the subset of fabric.ControlChannelClient used as the
// heartbeat's fallback transport when REST fails.
type PushSender interface {
	Send(payload any) error
	Reconnect(ctx context.Context) error
}

// BrokerReconnector is the subset of fabric.BrokerPool the recovery
// routine uses to force a fresh broker socket dial.
type BrokerReconnector interface {
	Reconnect(ctx context.Context) error
}

// LoopConfig wires the heartbeat loop's collaborators.
type LoopConfig struct {
	ExecutorID string
	Interval   time.Duration

	REST      RESTReporter
	Push      PushSender
	Broker    BrokerReconnector
	Collector *Collector
	Metrics   *Metrics

	// DailyState is the executor's shared missed-heartbeat counter (spec
	// §4.3 "Heartbeat missed-count resets to zero on any successful
	// report"). Optional — tests may omit it and rely on MissedCount.
	DailyState *risk.DailyState

	// Metadata supplies the heartbeat's additional metadata fields
	// (command-queue stats, active-command count, account snapshot) each
	// tick, read fresh so the payload always reflects current state.
	Metadata func() map[string]any

	// OnPendingCommands receives any commands piggybacked on a REST
	// heartbeat reply.
	OnPendingCommands func([]types.Command)
}

// Loop runs the spec §4.5 heartbeat: every Interval (default 60s) it
// samples system metrics, posts a compact record over REST, falls back
// to the push channel on REST failure, and after three consecutive
// failures on both transports runs the recovery routine (reconnect push,
// reconnect broker socket, force a GC).
type Loop struct {
	logger *zap.Logger
	cfg    LoopConfig

	mu           sync.Mutex
	missedCount  int
	stopCh       chan struct{}
}

// NewLoop builds a heartbeat Loop, defaulting Interval to 60s.
func NewLoop(logger *zap.Logger, cfg LoopConfig) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHeartbeatInterval
	}
	return &Loop{logger: logger.Named("heartbeat"), cfg: cfg, stopCh: make(chan struct{})}
}

// SetOnPendingCommands wires the callback invoked when a heartbeat reply
// piggybacks pending commands. Separate from LoopConfig since the
// Executor that owns the callback is typically constructed after the
// Loop it hands to.
func (l *Loop) SetOnPendingCommands(fn func([]types.Command)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.OnPendingCommands = fn
}

// MissedCount returns the current consecutive-failure counter. Exposed so
// the daily-reset routine (spec §4.3 "reset missed-heartbeat counter")
// can read it, and Executor can zero it at local midnight.
func (l *Loop) MissedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missedCount
}

// ResetMissedCount zeroes the missed-heartbeat counter.
func (l *Loop) ResetMissedCount() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missedCount = 0
}

// Run drives the ticker loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Stop halts the loop.
func (l *Loop) Stop() { close(l.stopCh) }

func (l *Loop) tick(ctx context.Context) {
	snap := l.cfg.Collector.Collect(ctx)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ObserveSnapshot(snap)
	}

	metadata := map[string]any{
		"cpuPercent":       snap.CPUPercent,
		"memoryPercent":    snap.MemoryPercent,
		"diskPercent":      snap.DiskPercent,
		"networkLatencyMs": snap.NetworkLatencyMS,
	}
	if l.cfg.Metadata != nil {
		for k, v := range l.cfg.Metadata() {
			metadata[k] = v
		}
	}

	payload := types.HeartbeatPayload{
		ExecutorID: l.cfg.ExecutorID,
		Status:     "online",
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}

	if l.sendViaREST(ctx, payload) {
		l.onSuccess()
		return
	}
	if l.sendViaPush(payload) {
		l.onSuccess()
		return
	}
	l.onFailure(ctx)
}

func (l *Loop) sendViaREST(ctx context.Context, payload types.HeartbeatPayload) bool {
	if l.cfg.REST == nil {
		return false
	}
	resp, err := l.cfg.REST.Heartbeat(ctx, payload)
	if err != nil {
		l.logger.Warn("heartbeat REST send failed", zap.Error(err))
		return false
	}
	if l.cfg.OnPendingCommands != nil && len(resp.PendingCommands) > 0 {
		l.cfg.OnPendingCommands(resp.PendingCommands)
	}
	return true
}

func (l *Loop) sendViaPush(payload types.HeartbeatPayload) bool {
	if l.cfg.Push == nil {
		return false
	}
	if err := l.cfg.Push.Send(map[string]any{"type": "heartbeat", "payload": payload}); err != nil {
		l.logger.Warn("heartbeat push fallback failed", zap.Error(err))
		return false
	}
	return true
}

func (l *Loop) onSuccess() {
	l.mu.Lock()
	l.missedCount = 0
	l.mu.Unlock()
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordHeartbeatSent()
	}
	if l.cfg.DailyState != nil {
		l.cfg.DailyState.ResetMissedHeartbeat()
	}
}

func (l *Loop) onFailure(ctx context.Context) {
	l.mu.Lock()
	l.missedCount++
	count := l.missedCount
	l.mu.Unlock()

	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordHeartbeatMissed()
	}
	if l.cfg.DailyState != nil {
		l.cfg.DailyState.IncrementMissedHeartbeat()
	}
	l.logger.Warn("heartbeat failed on every transport", zap.Int("consecutive_failures", count))

	if count >= recoveryAfterConsecutiveFail {
		l.recover(ctx)
	}
}

// recover runs the spec §4.5 three-failure recovery routine: reconnect
// push, reconnect broker socket, trigger garbage collection.
func (l *Loop) recover(ctx context.Context) {
	l.logger.Warn("running heartbeat recovery routine")
	if l.cfg.Push != nil {
		if err := l.cfg.Push.Reconnect(ctx); err != nil {
			l.logger.Warn("recovery: push reconnect failed", zap.Error(err))
		}
	}
	if l.cfg.Broker != nil {
		if err := l.cfg.Broker.Reconnect(ctx); err != nil {
			l.logger.Warn("recovery: broker reconnect failed", zap.Error(err))
		}
	}
	runtime.GC()
}
