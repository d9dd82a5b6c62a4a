package risk

// Limits holds the portfolio risk limits and the score cut points that map an
// accumulated risk score to a risk level. The cut points are configuration,
// not derived constants.
type Limits struct {
	// MaxDrawdown is the drawdown limit as a fraction of peak equity.
	MaxDrawdown float64 `yaml:"max_drawdown" validate:"gt=0,lte=1"`
	// MaxCorrelation is the highest tolerated pairwise correlation between
	// held positions.
	MaxCorrelation float64 `yaml:"max_correlation" validate:"gt=0,lte=1"`
	// MaxVaR95 is the 95% value-at-risk limit as a fraction.
	MaxVaR95 float64 `yaml:"max_var_95" validate:"gt=0,lte=1"`
	// MaxLeverage is the exposure-to-account-value limit.
	MaxLeverage float64 `yaml:"max_leverage" validate:"gt=0"`
	// MaxConcentration is the largest tolerated single-position share of total
	// exposure or account value.
	MaxConcentration float64 `yaml:"max_concentration" validate:"gt=0,lte=1"`
	// LookbackDays bounds the rolling history buffers.
	LookbackDays int `yaml:"lookback_days" validate:"gt=1"`

	// ExtremeScore, HighScore and MediumScore are the risk score cut points.
	// A score at or above ExtremeScore trips the circuit breaker.
	ExtremeScore int `yaml:"extreme_score" validate:"gt=0"`
	HighScore    int `yaml:"high_score" validate:"gt=0,ltfield=ExtremeScore"`
	MediumScore  int `yaml:"medium_score" validate:"gt=0,ltefield=HighScore"`
}

// DefaultLimits returns the standard risk limits: 20% drawdown, 0.7
// correlation, 5% VaR, no leverage, 25% concentration, one trading year of
// lookback.
func DefaultLimits() Limits {
	return Limits{
		MaxDrawdown:      0.20,
		MaxCorrelation:   0.7,
		MaxVaR95:         0.05,
		MaxLeverage:      1.0,
		MaxConcentration: 0.25,
		LookbackDays:     252,
		ExtremeScore:     4,
		HighScore:        2,
		MediumScore:      1,
	}
}
