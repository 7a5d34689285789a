package risk

import (
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DailyState tracks the mutable risk counters that reset at local
// midnight: running daily PnL, peak balance, and the missed-heartbeat
// counter (spec §4.3 "Daily reset"). Lives on the executor rather than as
// ambient package state.
type DailyState struct {
	mu               sync.Mutex
	dailyPnL         decimal.Decimal
	peakBalance      decimal.Decimal
	missedHeartbeats int
}

// NewDailyState builds a zeroed daily state.
func NewDailyState() *DailyState {
	return &DailyState{}
}

// RecordPnL adds delta to the running daily PnL.
func (d *DailyState) RecordPnL(delta decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dailyPnL = d.dailyPnL.Add(delta)
}

// UpdatePeakBalance raises the peak balance if equity is a new high.
func (d *DailyState) UpdatePeakBalance(equity decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if equity.GreaterThan(d.peakBalance) {
		d.peakBalance = equity
	}
}

// IncrementMissedHeartbeat bumps the missed-heartbeat counter and returns
// the new count.
func (d *DailyState) IncrementMissedHeartbeat() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missedHeartbeats++
	return d.missedHeartbeats
}

// ResetMissedHeartbeat zeroes the missed-heartbeat counter (called on a
// successful heartbeat).
func (d *DailyState) ResetMissedHeartbeat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.missedHeartbeats = 0
}

// Snapshot returns the current daily PnL, peak balance, and missed
// heartbeat count.
func (d *DailyState) Snapshot() (dailyPnL, peakBalance decimal.Decimal, missedHeartbeats int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dailyPnL, d.peakBalance, d.missedHeartbeats
}

// ResetDaily zeroes the daily PnL and missed-heartbeat counter at local
// midnight. Peak balance is not reset — it tracks the all-time high.
func (d *DailyState) ResetDaily() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dailyPnL = decimal.Zero
	d.missedHeartbeats = 0
}

// DailyResetScheduler drives DailyState.ResetDaily at local midnight using
// a cron job, grounded on the same scheduling library aristath-sentinel
// uses for recurring background jobs.
type DailyResetScheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	state  *DailyState
}

// NewDailyResetScheduler builds (but does not start) a midnight reset
// scheduler for state.
func NewDailyResetScheduler(logger *zap.Logger, state *DailyState) *DailyResetScheduler {
	return &DailyResetScheduler{
		cron:   cron.New(),
		logger: logger.Named("daily-reset"),
		state:  state,
	}
}

// Start registers the midnight reset job and starts the cron scheduler.
func (s *DailyResetScheduler) Start() error {
	_, err := s.cron.AddFunc("0 0 * * *", func() {
		s.logger.Info("running daily risk reset")
		s.state.ResetDaily()
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler, blocking until any in-flight job
// completes.
func (s *DailyResetScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
