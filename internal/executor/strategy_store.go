package executor

import (
	"sync"

	"github.com/atlas-desktop/trade-executor/pkg/types"
)

// StrategyStore is the active-strategy config map spec §5 describes as
// "copy-on-write; UPDATE_STRATEGY swaps the entry atomically" — Set never
// mutates a stored *types.Strategy in place, it only replaces the map
// entry, so a reader mid-evaluation keeps working off its own pointer.
type StrategyStore struct {
	mu         sync.RWMutex
	strategies map[string]*types.Strategy
}

// NewStrategyStore builds an empty store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{strategies: make(map[string]*types.Strategy)}
}

// Set installs strat, replacing any prior entry for the same id.
func (s *StrategyStore) Set(strat *types.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[strat.ID] = strat
}

// Get returns the strategy for id, if tracked.
func (s *StrategyStore) Get(id string) (*types.Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	strat, ok := s.strategies[id]
	return strat, ok
}

// Delete removes id from the store.
func (s *StrategyStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, id)
}

// All returns a snapshot slice of every tracked strategy.
func (s *StrategyStore) All() []*types.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Strategy, 0, len(s.strategies))
	for _, strat := range s.strategies {
		out = append(out, strat)
	}
	return out
}
