// Package strategy holds the live strategy registry and the
// condition/filter/direction evaluation engine the Evaluator pipeline
// drives on every tick. Strategies are plain config values (pkg/types.Strategy),
// not polymorphic behaviors, so the registry is a config store rather than
// the teacher's factory-of-interfaces pattern — but it keeps the same
// map+mutex+Register/Get/List shape atlas-ai's StrategyRegistry used.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a strategy id is not present in the registry.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("strategy: no strategy loaded with id %q", e.ID) }

// Registry holds every strategy the control plane has loaded into this
// executor. UPDATE_STRATEGY replaces the pointer atomically (copy-on-write,
// via types.Strategy.Clone); readers never observe a half-updated config.
type Registry struct {
	logger *zap.Logger

	mu         sync.RWMutex
	strategies map[string]*types.Strategy
}

// NewRegistry builds an empty strategy registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger.Named("strategy-registry"),
		strategies: make(map[string]*types.Strategy),
	}
}

// Load validates and stores a strategy under its id, overwriting any prior
// config for the same id (used by both START_STRATEGY and UPDATE_STRATEGY —
// the dispatcher decides which semantics apply around timers).
func (r *Registry) Load(s *types.Strategy) error {
	if err := Validate(s); err != nil {
		return err
	}
	clone := s.Clone()
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	r.mu.Lock()
	r.strategies[clone.ID] = clone
	r.mu.Unlock()

	r.logger.Info("strategy loaded", zap.String("strategy_id", clone.ID), zap.String("name", clone.Name))
	return nil
}

// Get returns a copy-on-write snapshot of the strategy with id, or
// ErrNotFound.
func (r *Registry) Get(id string) (*types.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, ErrNotFound{ID: id}
	}
	return s, nil
}

// SetStatus transitions a strategy's lifecycle status in place. The
// pointer itself is not replaced (status is mutated under a copy-on-write
// clone so concurrent readers of the old pointer are unaffected).
func (r *Registry) SetStatus(id string, status types.StrategyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.strategies[id]
	if !ok {
		return ErrNotFound{ID: id}
	}
	clone := s.Clone()
	clone.Status = status
	clone.UpdatedAt = time.Now()
	r.strategies[id] = clone
	return nil
}

// Remove deletes a strategy from the registry (STOP_STRATEGY after its
// timer has been cancelled).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, id)
}

// List returns a snapshot of every loaded strategy.
func (r *Registry) List() []*types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// Active returns every strategy currently in the active status.
func (r *Registry) Active() []*types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if s.Status == types.StrategyActive {
			out = append(out, s)
		}
	}
	return out
}
