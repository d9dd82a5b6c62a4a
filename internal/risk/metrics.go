package risk

import "time"

// Level classifies the current portfolio risk.
type Level string

const (
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
	LevelExtreme Level = "extreme"
)

// Severity returns the ordering of the level, from 0 (low) to 3 (extreme).
func (l Level) Severity() int {
	switch l {
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelExtreme:
		return 3
	default:
		return 0
	}
}

// Metrics is a point-in-time risk snapshot. It is recomputed on every
// evaluation and never mutated.
type Metrics struct {
	Timestamp time.Time `yaml:"timestamp"`
	// TotalExposure is the sum of absolute position market values.
	TotalExposure float64 `yaml:"total_exposure"`
	// VaR95 is the 5th percentile of the rolling portfolio return series.
	VaR95 float64 `yaml:"var_95"`
	// CVaR95 is the mean return in the tail at or below VaR95.
	CVaR95 float64 `yaml:"cvar_95"`
	// CurrentDrawdown is the decline from the rolling equity peak, as a
	// non-positive fraction.
	CurrentDrawdown float64 `yaml:"current_drawdown"`
	// MaxDrawdown is the deepest drawdown over the tracked history.
	MaxDrawdown float64 `yaml:"max_drawdown"`
	// CorrelationRisk is the highest absolute pairwise correlation among held
	// symbols.
	CorrelationRisk float64 `yaml:"correlation_risk"`
	// ConcentrationRisk is the largest position's share of total exposure.
	ConcentrationRisk float64 `yaml:"concentration_risk"`
	// LeverageRatio is total exposure over account value.
	LeverageRatio float64 `yaml:"leverage_ratio"`
	RiskLevel     Level   `yaml:"risk_level"`
	Warnings      []string `yaml:"warnings"`
}
