package types

import "github.com/shopspring/decimal"

// AccountProfile selects a risk-limits preset.
type AccountProfile string

const (
	ProfileDemo AccountProfile = "demo"
	ProfileLive AccountProfile = "live"
)

// RiskLimits bounds every pre-trade check the Gatekeeper performs.
type RiskLimits struct {
	Profile AccountProfile `json:"profile"`

	MaxDailyLoss    decimal.Decimal `json:"maxDailyLoss"`    // currency
	MaxDailyLossPct decimal.Decimal `json:"maxDailyLossPct"` // percent of starting balance

	MaxDrawdown    decimal.Decimal `json:"maxDrawdown"`    // currency
	MaxDrawdownPct decimal.Decimal `json:"maxDrawdownPct"` // percent of peak balance

	MaxPositions      int             `json:"maxPositions"`
	MaxLotSize        decimal.Decimal `json:"maxLotSize"`
	MaxTotalExposure  decimal.Decimal `json:"maxTotalExposure"`
	MaxCorrelation    decimal.Decimal `json:"maxCorrelation"`

	RequireMarginCheck  bool `json:"requireMarginCheck"`
	CheckTradingHours   bool `json:"checkTradingHours"`
	CheckNews           bool `json:"checkNews"`
	AllowHighRisk       bool `json:"allowHighRisk"`
	AutoStopOnLimit     bool `json:"autoStopOnLimit"`
	RequireConfirmation bool `json:"requireConfirmation"`
}

// DemoRiskLimits is the permissive preset from spec §6.
func DemoRiskLimits() RiskLimits {
	return RiskLimits{
		Profile:             ProfileDemo,
		MaxDailyLoss:        decimal.NewFromInt(1000),
		MaxDailyLossPct:     decimal.NewFromInt(10),
		MaxDrawdown:         decimal.NewFromInt(3000),
		MaxDrawdownPct:      decimal.NewFromInt(30),
		MaxPositions:        10,
		MaxLotSize:          decimal.NewFromInt(1),
		MaxTotalExposure:    decimal.NewFromInt(10000),
		MaxCorrelation:      decimal.NewFromFloat(0.9),
		RequireMarginCheck:  true,
		CheckTradingHours:   true,
		CheckNews:           false,
		AllowHighRisk:       true,
		AutoStopOnLimit:     true,
		RequireConfirmation: false,
	}
}

// LiveRiskLimits is the conservative preset from spec §6.
func LiveRiskLimits() RiskLimits {
	return RiskLimits{
		Profile:             ProfileLive,
		MaxDailyLoss:        decimal.NewFromInt(200),
		MaxDailyLossPct:     decimal.NewFromInt(2),
		MaxDrawdown:         decimal.NewFromInt(600),
		MaxDrawdownPct:      decimal.NewFromInt(6),
		MaxPositions:        3,
		MaxLotSize:          decimal.NewFromFloat(0.1),
		MaxTotalExposure:    decimal.NewFromInt(1000),
		MaxCorrelation:      decimal.NewFromFloat(0.7),
		RequireMarginCheck:  true,
		CheckTradingHours:   true,
		CheckNews:           true,
		AllowHighRisk:       false,
		AutoStopOnLimit:     true,
		RequireConfirmation: true,
	}
}

// RiskCheckSeverity classifies the outcome of one gate check.
type RiskCheckSeverity string

const (
	SeverityPassed  RiskCheckSeverity = "passed"
	SeverityWarning RiskCheckSeverity = "warning"
	SeverityFailed  RiskCheckSeverity = "failed"
)

// RiskCheck is the result of one named gate in the Gatekeeper chain.
type RiskCheck struct {
	Name     string            `json:"name"`
	Severity RiskCheckSeverity `json:"severity"`
	Reason   string            `json:"reason"`
}

// RiskGateResult is the aggregate outcome of the Gatekeeper chain for one
// candidate order.
type RiskGateResult struct {
	Approved bool        `json:"approved"`
	Checks   []RiskCheck `json:"checks"`
	Warnings []string    `json:"warnings"`
}

// FirstFailure returns the first failed check, if any.
func (r RiskGateResult) FirstFailure() (RiskCheck, bool) {
	for _, c := range r.Checks {
		if c.Severity == SeverityFailed {
			return c, true
		}
	}
	return RiskCheck{}, false
}
