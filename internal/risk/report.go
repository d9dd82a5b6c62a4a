package risk

import "math"

// DrawdownStats summarizes the drawdown behavior of the tracked equity
// history.
type DrawdownStats struct {
	Current      float64 `yaml:"current"`
	Max          float64 `yaml:"max"`
	Average      float64 `yaml:"average"`
	DurationDays int     `yaml:"duration_days"`
}

// VaRStats summarizes the tail behavior of the rolling portfolio returns.
type VaRStats struct {
	VaR95      float64 `yaml:"var_95"`
	VaR99      float64 `yaml:"var_99"`
	CVaR95     float64 `yaml:"cvar_95"`
	WorstDay   float64 `yaml:"worst_day"`
	Volatility float64 `yaml:"volatility"`
}

// Report is a full risk report: the configured limits, the current
// correlation matrix and drawdown and VaR statistics.
type Report struct {
	Limits      Limits                        `yaml:"limits"`
	Correlation map[string]map[string]float64 `yaml:"correlation_matrix"`
	Drawdowns   DrawdownStats                 `yaml:"drawdowns"`
	VaR         VaRStats                      `yaml:"var_analysis"`
}

// Report builds a risk report from the tracked history.
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := Report{
		Limits:      m.limits,
		Correlation: copyMatrix(m.correlationMatrixLocked()),
	}

	if len(m.equityHistory) >= 2 {
		report.Drawdowns = drawdownStats(m.equityHistory)
	}

	if m.returns.len() > 0 {
		report.VaR = varStats(m.returns.portfolioReturns())
	}

	return report
}

func copyMatrix(matrix map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(matrix))

	for symbol, row := range matrix {
		rowCopy := make(map[string]float64, len(row))
		for other, corr := range row {
			rowCopy[other] = corr
		}

		out[symbol] = rowCopy
	}

	return out
}

func drawdownStats(equity []float64) DrawdownStats {
	peak := math.Inf(-1)

	var current float64

	var negativeSum float64

	negativeCount := 0

	for _, e := range equity {
		if e > peak {
			peak = e
		}

		if peak <= 0 {
			continue
		}

		current = (e - peak) / peak
		if current < 0 {
			negativeSum += current
			negativeCount++
		}
	}

	average := 0.0
	if negativeCount > 0 {
		average = negativeSum / float64(negativeCount)
	}

	return DrawdownStats{
		Current:      current,
		Max:          deepestDrawdown(equity),
		Average:      average,
		DurationDays: negativeCount,
	}
}

func varStats(returns []float64) VaRStats {
	if len(returns) == 0 {
		return VaRStats{}
	}

	var95, cvar95 := varCVaR(returns)

	worst := returns[0]
	mean := 0.0

	for _, r := range returns {
		if r < worst {
			worst = r
		}

		mean += r
	}

	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}

	std := 0.0
	if len(returns) > 1 {
		std = math.Sqrt(variance / float64(len(returns)-1))
	}

	return VaRStats{
		VaR95:      var95,
		VaR99:      percentile(returns, 1),
		CVaR95:     cvar95,
		WorstDay:   worst,
		Volatility: std * math.Sqrt(252),
	}
}
