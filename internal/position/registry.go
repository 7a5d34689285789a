// Package position maintains the executor's view of broker-reported open
// positions and drives the smart exit rules layered on top of them.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/fabric"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxConsecutiveSyncFailures clears the registry and pauses evaluation
// until the broker sync recovers (spec §4.4 "safety measure").
const maxConsecutiveSyncFailures = 3

// BrokerSnapshot fetches the current broker-reported open positions.
// Satisfied by fabric.BrokerPool.Send(ctx, types.BrokerGetPositions, nil)
// decoded into []types.Position; kept as a narrow interface here so tests
// can fake the broker without standing up a socket pool.
type BrokerSnapshot interface {
	Positions(ctx context.Context) ([]types.Position, error)
}

// exitState is the per-position auxiliary record the Smart Exit Manager
// uses to remember which partial-exit levels already fired and whether
// breakeven has been applied (spec §4.4 "state held in registry's
// per-position auxiliary record").
type exitState struct {
	firedLevels     map[int]bool
	exitedPct       decimal.Decimal
	breakevenMoved  bool
	trailingSL      decimal.Decimal
	hasTrailingSL   bool
}

// PositionRecord is the registry's view of one broker position, tagged
// with the strategy that opened it and the Smart Exit Manager's state.
type PositionRecord struct {
	Position   types.Position
	StrategyID string
	FirstSeen  time.Time
	LastSynced time.Time

	exit exitState
}

// Registry is the ticket → PositionRecord map, kept current by a 5s
// broker-sync loop (spec §4.4 Registry), grounded on
// internal/execution/order_manager.go's map+mutex+ticker-poll OrderManager.
type Registry struct {
	logger *zap.Logger
	broker BrokerSnapshot

	mu        sync.RWMutex
	positions map[int64]*PositionRecord

	consecutiveFailures int
	paused              bool

	closedEvents chan ClosedEvent
}

// ClosedEvent is emitted when a ticket present in the registry disappears
// from a broker snapshot (spec §4.4 step 2, "emit position-closed").
type ClosedEvent struct {
	Ticket     int64
	StrategyID string
	Symbol     string
	ClosedAt   time.Time
}

// NewRegistry builds a Registry that syncs against broker.
func NewRegistry(logger *zap.Logger, broker BrokerSnapshot) *Registry {
	return &Registry{
		logger:       logger.Named("position-registry"),
		broker:       broker,
		positions:    make(map[int64]*PositionRecord),
		closedEvents: make(chan ClosedEvent, 100),
	}
}

// ClosedEvents returns the channel of position-closed notifications.
func (r *Registry) ClosedEvents() <-chan ClosedEvent {
	return r.closedEvents
}

// Run drives the 5s broker sync loop until ctx is cancelled (spec §4.4
// Registry sync loop), mirroring OrderManager.MonitorOrders's
// ticker-then-poll shape.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sync(ctx)
		}
	}
}

func (r *Registry) sync(ctx context.Context) {
	snapshot, err := r.broker.Positions(ctx)
	if err != nil {
		r.mu.Lock()
		r.consecutiveFailures++
		failures := r.consecutiveFailures
		if failures >= maxConsecutiveSyncFailures {
			r.positions = make(map[int64]*PositionRecord)
			r.paused = true
			r.logger.Warn("broker sync failing, registry cleared and evaluation paused",
				zap.Int("consecutive_failures", failures), zap.Error(err))
		} else {
			r.logger.Warn("broker sync failed", zap.Int("consecutive_failures", failures), zap.Error(err))
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures = 0
	if r.paused {
		r.paused = false
		r.logger.Info("broker sync recovered, evaluation resumed")
	}

	now := time.Now()
	seen := make(map[int64]bool, len(snapshot))
	for _, pos := range snapshot {
		seen[pos.Ticket] = true
		if existing, ok := r.positions[pos.Ticket]; ok {
			existing.Position = pos
			existing.LastSynced = now
			continue
		}
		r.positions[pos.Ticket] = &PositionRecord{
			Position:   pos,
			StrategyID: strategyIDFromComment(pos.Comment),
			FirstSeen:  now,
			LastSynced: now,
			exit:       exitState{firedLevels: make(map[int]bool)},
		}
	}

	for ticket, rec := range r.positions {
		if seen[ticket] {
			continue
		}
		delete(r.positions, ticket)
		select {
		case r.closedEvents <- ClosedEvent{Ticket: ticket, StrategyID: rec.StrategyID, Symbol: rec.Position.Symbol, ClosedAt: now}:
		default:
			r.logger.Warn("closed-event channel full, dropping notification", zap.Int64("ticket", ticket))
		}
	}
}

// strategyIDFromComment recovers the originating strategy id from the
// broker comment field: the Order Dispatcher stamps every OPEN_POSITION
// request's comment with the strategy id verbatim (magic is a bare int64
// and can't carry a string id, so comment is the correlation key).
func strategyIDFromComment(comment string) string {
	return comment
}

// Paused reports whether the registry cleared itself after repeated sync
// failures. Executor.evaluateExits skips smart-exit evaluation while it is
// true; the strategy evaluation Scheduler does not consult it.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// HasOpenPosition satisfies evaluator.PositionLookup.
func (r *Registry) HasOpenPosition(strategyID, symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.positions {
		if rec.StrategyID == strategyID && rec.Position.Symbol == symbol {
			return true
		}
	}
	return false
}

// Get returns a copy of the record for ticket, if present.
func (r *Registry) Get(ticket int64) (PositionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.positions[ticket]
	if !ok {
		return PositionRecord{}, false
	}
	return *rec, true
}

// All returns a lock-free snapshot copy of every tracked position (spec
// §5 "reads are lock-free snapshots").
func (r *Registry) All() []PositionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PositionRecord, 0, len(r.positions))
	for _, rec := range r.positions {
		out = append(out, *rec)
	}
	return out
}

// Mutate applies fn to the live record for ticket under the registry's
// write lock, if it is still tracked. Used by the Smart Exit Manager tick
// loop, which needs its per-position exit state (firedLevels, trailing
// SL, ...) to persist across ticks rather than mutate a throwaway copy
// from Get/All.
func (r *Registry) Mutate(ticket int64, fn func(*PositionRecord)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.positions[ticket]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// ByStrategy returns every open position opened by strategyID.
func (r *Registry) ByStrategy(strategyID string) []PositionRecord {
	return filterRecords(r.All(), func(rec PositionRecord) bool { return rec.StrategyID == strategyID })
}

// BySymbol returns every open position on symbol.
func (r *Registry) BySymbol(symbol string) []PositionRecord {
	return filterRecords(r.All(), func(rec PositionRecord) bool { return rec.Position.Symbol == symbol })
}

// Profitable returns positions with positive unrealized profit.
func (r *Registry) Profitable() []PositionRecord {
	return filterRecords(r.All(), func(rec PositionRecord) bool { return rec.Position.Profit.GreaterThan(decimal.Zero) })
}

// Losing returns positions with negative unrealized profit.
func (r *Registry) Losing() []PositionRecord {
	return filterRecords(r.All(), func(rec PositionRecord) bool { return rec.Position.Profit.LessThan(decimal.Zero) })
}

// Oldest returns the position with the earliest FirstSeen, or false if
// the registry is empty.
func (r *Registry) Oldest() (PositionRecord, bool) {
	return extremeByTime(r.All(), true)
}

// Newest returns the position with the most recent FirstSeen, or false if
// the registry is empty.
func (r *Registry) Newest() (PositionRecord, bool) {
	return extremeByTime(r.All(), false)
}

// TotalExposure sums Volume*OpenPrice across every tracked position.
func (r *Registry) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, rec := range r.All() {
		total = total.Add(rec.Position.Volume.Mul(rec.Position.OpenPrice))
	}
	return total
}

// Summary aggregates counts and PnL by strategy and by symbol (spec §4.4
// Queries "summary (counts, PnL by strategy, by symbol)").
type Summary struct {
	TotalPositions int
	TotalPnL       decimal.Decimal
	PnLByStrategy  map[string]decimal.Decimal
	PnLBySymbol    map[string]decimal.Decimal
}

// Summary builds the aggregate view described above.
func (r *Registry) Summary() Summary {
	records := r.All()
	s := Summary{
		TotalPositions: len(records),
		TotalPnL:       decimal.Zero,
		PnLByStrategy:  make(map[string]decimal.Decimal),
		PnLBySymbol:    make(map[string]decimal.Decimal),
	}
	for _, rec := range records {
		s.TotalPnL = s.TotalPnL.Add(rec.Position.Profit)
		s.PnLByStrategy[rec.StrategyID] = s.PnLByStrategy[rec.StrategyID].Add(rec.Position.Profit)
		s.PnLBySymbol[rec.Position.Symbol] = s.PnLBySymbol[rec.Position.Symbol].Add(rec.Position.Profit)
	}
	return s
}

func filterRecords(records []PositionRecord, keep func(PositionRecord) bool) []PositionRecord {
	out := make([]PositionRecord, 0, len(records))
	for _, rec := range records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func extremeByTime(records []PositionRecord, oldest bool) (PositionRecord, bool) {
	if len(records) == 0 {
		return PositionRecord{}, false
	}
	best := records[0]
	for _, rec := range records[1:] {
		if oldest && rec.FirstSeen.Before(best.FirstSeen) {
			best = rec
		}
		if !oldest && rec.FirstSeen.After(best.FirstSeen) {
			best = rec
		}
	}
	return best, true
}

// BrokerPoolSnapshot adapts a *fabric.BrokerPool to BrokerSnapshot,
// decoding GET_POSITIONS's {"positions": [...]} payload.
type BrokerPoolSnapshot struct {
	Pool *fabric.BrokerPool
}

// Positions issues GET_POSITIONS and decodes the response.
func (b BrokerPoolSnapshot) Positions(ctx context.Context) ([]types.Position, error) {
	resp, err := b.Pool.Send(ctx, types.BrokerGetPositions, nil)
	if err != nil {
		return nil, err
	}
	return decodePositions(resp.Data)
}
