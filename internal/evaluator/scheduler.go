package evaluator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/workers"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
)

const (
	minConcurrency = 1
	maxConcurrency = 50
	// defaultSymbolTimeout bounds one symbol's evaluation within a tick
	// (spec §4.2 "per-symbol evaluation timeout (default 30 s)").
	defaultSymbolTimeout = 30 * time.Second
)

// ResultHandler receives the outcome of one (strategy, symbol)
// evaluation tick, typically wiring it to the risk gatekeeper / order
// dispatcher.
type ResultHandler func(result types.EvaluationResult, err error)

// strategyTimer owns one active strategy's evaluation ticker.
type strategyTimer struct {
	strategy *types.Strategy
	ticker   *time.Ticker
	stopCh   chan struct{}
	paused   atomicBool

	inFlight      atomicBool
	droppedTicks  int64
	droppedTicksM sync.Mutex
}

// DroppedTicks returns how many scheduled ticks were skipped because the
// previous tick for this strategy was still running (spec §5 "Ordering
// guarantees": ticks do not overlap per strategy).
func (t *strategyTimer) DroppedTicks() int64 {
	t.droppedTicksM.Lock()
	defer t.droppedTicksM.Unlock()
	return t.droppedTicks
}

func (t *strategyTimer) incrementDropped() {
	t.droppedTicksM.Lock()
	t.droppedTicks++
	t.droppedTicksM.Unlock()
}

// atomicBool is a tiny mutex-guarded bool; sync/atomic.Bool would do the
// same job but the rest of this package favors plain mutexes to match the
// teacher's style.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (a *atomicBool) set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomicBool) get() bool  { a.mu.Lock(); defer a.mu.Unlock(); return a.v }

// compareAndSwap sets the value to newVal and reports true only if the
// current value equalled old.
func (a *atomicBool) compareAndSwap(old, newVal bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.v != old {
		return false
	}
	a.v = newVal
	return true
}

// Scheduler runs one cooperative ticker per active strategy (spec §4.2
// "Scheduling"), fanning each tick's per-symbol evaluations out across a
// bounded worker pool so total in-flight evaluations across every
// strategy never exceeds the configured concurrency cap.
type Scheduler struct {
	logger    *zap.Logger
	evaluator *Evaluator
	pool      *workers.Pool
	onResult  ResultHandler

	symbolTimeout time.Duration

	mu      sync.Mutex
	timers  map[string]*strategyTimer
	running bool
}

// SchedulerConfig configures the Scheduler's concurrency cap and
// per-symbol timeout.
type SchedulerConfig struct {
	Concurrency   int // clamped to [1,50]; 0 means 2x CPU count (spec default)
	SymbolTimeout time.Duration
}

// NewScheduler builds a Scheduler bound to evaluator, reporting results to
// onResult.
func NewScheduler(logger *zap.Logger, ev *Evaluator, cfg SchedulerConfig, onResult ResultHandler) *Scheduler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU() * 2
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	poolCfg := workers.DefaultPoolConfig("strategy-evaluator")
	poolCfg.NumWorkers = concurrency

	s := &Scheduler{
		logger:    logger.Named("scheduler"),
		evaluator: ev,
		pool:      workers.NewPool(logger.Named("evaluator-pool"), poolCfg),
		onResult:  onResult,
		timers:    make(map[string]*strategyTimer),
	}
	s.symbolTimeout = cfg.SymbolTimeout
	return s
}

// Start boots the underlying worker pool. Must be called before any
// strategy timer can do useful work.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.pool.Start()
	s.running = true
}

// Stop halts every strategy timer and drains the worker pool.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	for _, t := range s.timers {
		close(t.stopCh)
		t.ticker.Stop()
	}
	s.timers = make(map[string]*strategyTimer)
	s.running = false
	s.mu.Unlock()
	return s.pool.Stop()
}

// StartStrategy begins a new cooperative ticker for strat, replacing any
// prior timer for the same id (UPDATE_STRATEGY semantics: atomic config
// swap, next tick uses the new config — spec §4.1 Command Dispatcher).
func (s *Scheduler) StartStrategy(strat *types.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[strat.ID]; ok {
		close(existing.stopCh)
		existing.ticker.Stop()
	}

	t := &strategyTimer{
		strategy: strat,
		ticker:   time.NewTicker(strat.Timeframe.TickInterval()),
		stopCh:   make(chan struct{}),
	}
	s.timers[strat.ID] = t
	go s.run(t)
}

// StopStrategy cancels strategyID's timer; an in-flight tick is allowed
// to finish (spec §3 Lifecycles "in-flight evaluation allowed to finish").
func (s *Scheduler) StopStrategy(strategyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[strategyID]
	if !ok {
		return
	}
	close(t.stopCh)
	t.ticker.Stop()
	delete(s.timers, strategyID)
}

// PauseStrategy stops evaluation ticks without cancelling the timer or
// touching open positions.
func (s *Scheduler) PauseStrategy(strategyID string) {
	s.mu.Lock()
	t, ok := s.timers[strategyID]
	s.mu.Unlock()
	if ok {
		t.paused.set(true)
	}
}

// ResumeStrategy restarts evaluation ticks for a paused strategy.
func (s *Scheduler) ResumeStrategy(strategyID string) {
	s.mu.Lock()
	t, ok := s.timers[strategyID]
	s.mu.Unlock()
	if ok {
		t.paused.set(false)
	}
}

// DroppedTicks reports how many ticks were skipped for strategyID because
// the previous evaluation was still in flight. Used by telemetry to
// surface scheduling pressure (spec §5).
func (s *Scheduler) DroppedTicks(strategyID string) int64 {
	s.mu.Lock()
	t, ok := s.timers[strategyID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return t.DroppedTicks()
}

func (s *Scheduler) run(t *strategyTimer) {
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.ticker.C:
			if t.paused.get() {
				continue
			}
			// Spec §5 "Ordering guarantees": per strategy, ticks do not
			// overlap. If the previous tick for this strategy is still
			// running, the new one is dropped rather than queued.
			if !t.inFlight.compareAndSwap(false, true) {
				t.incrementDropped()
				s.logger.Warn("tick dropped: previous tick still running",
					zap.String("strategy_id", t.strategy.ID),
					zap.Int64("dropped_ticks", t.DroppedTicks()))
				continue
			}
			s.tick(t.strategy, &t.inFlight)
		}
	}
}

// tick fans out one evaluation per symbol, each under its own timeout and
// the shared worker pool's concurrency cap. inFlight is cleared once every
// symbol in the tick has reported back, releasing the strategy's
// non-overlap guard.
func (s *Scheduler) tick(strat *types.Strategy, inFlight *atomicBool) {
	var wg sync.WaitGroup
	for _, symbol := range strat.Symbols {
		symbol := symbol
		wg.Add(1)
		err := s.pool.SubmitFunc(func() error {
			defer wg.Done()
			timeout := s.symbolTimeout
			if timeout <= 0 {
				timeout = defaultSymbolTimeout
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			done := make(chan struct{})
			var result types.EvaluationResult
			var evalErr error
			go func() {
				result, evalErr = s.evaluator.EvaluateSymbol(strat, symbol)
				close(done)
			}()

			select {
			case <-done:
				if s.onResult != nil {
					s.onResult(result, evalErr)
				}
			case <-ctx.Done():
				s.logger.Warn("evaluation timed out", zap.String("strategy_id", strat.ID), zap.String("symbol", symbol))
				if s.onResult != nil {
					s.onResult(types.EvaluationResult{StrategyID: strat.ID, Symbol: symbol, Action: types.ActionWait}, ctx.Err())
				}
			}
			return nil
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("failed to submit evaluation task", zap.String("strategy_id", strat.ID), zap.String("symbol", symbol), zap.Error(err))
		}
	}
	go func() {
		wg.Wait()
		inFlight.set(false)
	}()
}
