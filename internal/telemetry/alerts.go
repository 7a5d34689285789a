package telemetry

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trade-executor/pkg/types"
	"github.com/shopspring/decimal"
)

// defaultDedupWindow is how long an already-fired rule is suppressed from
// firing again, even if its condition still holds (spec §4.5 "alerts are
// deduplicated").
const defaultDedupWindow = 15 * time.Minute

// RuleInput is everything an alert rule needs to decide whether to fire.
type RuleInput struct {
	Snapshot        SystemSnapshot
	Limits          types.RiskLimits
	DailyPnL        decimal.Decimal
	StartingBalance decimal.Decimal
	ErrorRate       float64 // fraction in [0,1] of recent requests that failed
}

// Rule is one named, categorized alert check.
type Rule struct {
	Name     string
	Category types.AlertCategory
	Evaluate func(in RuleInput) (triggered bool, message string)
}

// DefaultRules is the fixed rule set from spec §4.5: daily-loss, memory
// >85%, disk >80%, CPU >90%, latency >1s, error-rate >5%.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "daily-loss",
			Category: types.AlertCategorySafety,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.StartingBalance.IsZero() || !in.DailyPnL.IsNegative() {
					return false, ""
				}
				loss := in.DailyPnL.Abs()
				if loss.GreaterThanOrEqual(in.Limits.MaxDailyLoss) {
					return true, "daily loss has reached the configured limit"
				}
				pct := loss.Div(in.StartingBalance).Mul(decimal.NewFromInt(100))
				if pct.GreaterThanOrEqual(in.Limits.MaxDailyLossPct) {
					return true, "daily loss percentage has reached the configured limit"
				}
				return false, ""
			},
		},
		{
			Name:     "memory-high",
			Category: types.AlertCategorySafety,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.Snapshot.MemoryPercent > 85 {
					return true, "memory usage above 85%"
				}
				return false, ""
			},
		},
		{
			Name:     "disk-high",
			Category: types.AlertCategorySafety,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.Snapshot.DiskPercent > 80 {
					return true, "disk usage above 80%"
				}
				return false, ""
			},
		},
		{
			Name:     "cpu-high",
			Category: types.AlertCategorySafety,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.Snapshot.CPUPercent > 90 {
					return true, "CPU usage above 90%"
				}
				return false, ""
			},
		},
		{
			Name:     "latency-high",
			Category: types.AlertCategorySafety,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.Snapshot.NetworkLatencyMS > 1000 {
					return true, "network latency above 1s"
				}
				return false, ""
			},
		},
		{
			Name:     "error-rate-high",
			Category: types.AlertCategorySecurity,
			Evaluate: func(in RuleInput) (bool, string) {
				if in.ErrorRate > 0.05 {
					return true, "error rate above 5%"
				}
				return false, ""
			},
		},
	}
}

// Persister is the storage collaborator spec §4.5 mentions for alert
// persistence. Implementations are expected to be durable (a file or a
// database); the zero value of Store uses an in-memory Persister so tests
// and a minimal deployment both work without one.
type Persister interface {
	Save(alert types.Alert) error
}

// memoryPersister is the default no-op-durability Persister.
type memoryPersister struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (p *memoryPersister) Save(alert types.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

// Store evaluates rules against a RuleInput, deduplicates firings within
// a window, tracks acknowledgement, and persists every fired alert.
type Store struct {
	rules       []Rule
	dedupWindow time.Duration
	persister   Persister

	mu       sync.Mutex
	lastFired map[string]time.Time
	acked     map[string]bool
}

// NewStore builds a Store with the default rule set. A nil persister
// falls back to an in-memory one.
func NewStore(persister Persister) *Store {
	if persister == nil {
		persister = &memoryPersister{}
	}
	return &Store{
		rules:       DefaultRules(),
		dedupWindow: defaultDedupWindow,
		persister:   persister,
		lastFired:   make(map[string]time.Time),
		acked:       make(map[string]bool),
	}
}

// Evaluate runs every rule against in, returning the alerts that fired
// and were not suppressed by the dedup window. Each returned alert is
// persisted before being returned.
func (s *Store) Evaluate(in RuleInput) []types.Alert {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []types.Alert
	for _, rule := range s.rules {
		triggered, message := rule.Evaluate(in)
		if !triggered {
			continue
		}
		if last, ok := s.lastFired[rule.Name]; ok && now.Sub(last) < s.dedupWindow {
			continue
		}
		s.lastFired[rule.Name] = now
		delete(s.acked, rule.Name)

		alert := types.Alert{Category: rule.Category, Rule: rule.Name, Message: message, Timestamp: now}
		_ = s.persister.Save(alert)
		fired = append(fired, alert)
	}
	return fired
}

// Ack marks the most recent firing of rule as acknowledged. It does not
// affect dedup: a repeat within the dedup window is still suppressed, and
// the next firing that Evaluate reports clears the acknowledgement.
func (s *Store) Ack(rule string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[rule] = true
}

// Acked reports whether rule's most recent firing has been acknowledged.
func (s *Store) Acked(rule string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked[rule]
}
