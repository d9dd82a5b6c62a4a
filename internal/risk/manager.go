// Package risk tracks portfolio equity and position history and enforces
// portfolio-level risk limits. The Manager owns the rolling history buffers
// and the returns correlation matrix; callers interact with it only through
// snapshot and filter operations.
package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/types"
)

// minCorrelationRows is the minimum number of return observations before the
// correlation matrix is considered meaningful.
const minCorrelationRows = 20

// Manager is a stateful accumulator of equity and position history. It is
// safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	limits Limits
	log    *logger.Logger

	equityHistory   []float64
	positionHistory map[string][]float64
	returns         *returnsBuffer

	// correlation is recomputed lazily from the returns buffer when dirty.
	correlation      map[string]map[string]float64
	correlationDirty bool

	lastUpdate time.Time
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits, log *logger.Logger) *Manager {
	return &Manager{
		limits:          limits,
		log:             log,
		positionHistory: make(map[string][]float64),
		returns:         newReturnsBuffer(limits.LookbackDays),
		correlation:     make(map[string]map[string]float64),
	}
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// UpdateHistory appends one observation to the rolling buffers: the portfolio
// equity, and for each held symbol its position market value and derived
// return. Buffers are bounded by the lookback window.
func (m *Manager) UpdateHistory(equity float64, positions map[string]float64, prices map[string]float64, timestamp time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.equityHistory = append(m.equityHistory, equity)
	if len(m.equityHistory) > m.limits.LookbackDays {
		m.equityHistory = m.equityHistory[1:]
	}

	row := make(map[string]float64)

	for symbol, quantity := range positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		value := quantity * price
		history := append(m.positionHistory[symbol], value)

		if len(history) > m.limits.LookbackDays {
			history = history[1:]
		}

		m.positionHistory[symbol] = history

		ret := 0.0
		if len(history) > 1 && history[len(history)-2] != 0 {
			prev := history[len(history)-2]
			ret = (value - prev) / prev
		}

		row[symbol] = ret
	}

	if len(row) > 0 {
		m.returns.push(row)
		m.correlationDirty = true
	}

	m.lastUpdate = timestamp
}

// LastUpdate returns the timestamp of the most recent history observation.
func (m *Manager) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastUpdate
}

// CalculateMetrics computes a point-in-time risk snapshot from the current
// state and the rolling history.
func (m *Manager) CalculateMetrics(currentEquity float64, positions map[string]float64, prices map[string]float64, accountValue float64) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calculateMetricsLocked(currentEquity, positions, prices, accountValue)
}

func (m *Manager) calculateMetricsLocked(currentEquity float64, positions map[string]float64, prices map[string]float64, accountValue float64) Metrics {
	var warnings []string

	totalExposure := 0.0
	maxPositionValue := 0.0

	for symbol, quantity := range positions {
		value := math.Abs(quantity * prices[symbol])
		totalExposure += value

		if value > maxPositionValue {
			maxPositionValue = value
		}
	}

	currentDrawdown := 0.0
	maxDrawdown := 0.0

	if len(m.equityHistory) > 0 {
		peak := m.equityHistory[0]
		for _, e := range m.equityHistory {
			if e > peak {
				peak = e
			}
		}

		if peak > 0 {
			currentDrawdown = (currentEquity - peak) / peak
		}

		maxDrawdown = deepestDrawdown(m.equityHistory)
	}

	var var95, cvar95 float64
	if m.returns.len() > minCorrelationRows {
		var95, cvar95 = varCVaR(m.returns.portfolioReturns())
	}

	correlationRisk := m.correlationRiskLocked(positions)

	concentrationRisk := 0.0
	if totalExposure > 0 {
		concentrationRisk = maxPositionValue / totalExposure
	}

	leverageRatio := 0.0
	if accountValue > 0 {
		leverageRatio = totalExposure / accountValue
	}

	score := 0

	if math.Abs(currentDrawdown) > m.limits.MaxDrawdown*0.5 {
		score++

		warnings = append(warnings, fmt.Sprintf("drawdown at %.1f%% (limit %.0f%%)",
			math.Abs(currentDrawdown)*100, m.limits.MaxDrawdown*100))
	}

	if math.Abs(currentDrawdown) > m.limits.MaxDrawdown {
		score += 2

		warnings = append(warnings, "maximum drawdown exceeded")
	}

	if math.Abs(var95) > m.limits.MaxVaR95 {
		score++

		warnings = append(warnings, fmt.Sprintf("VaR exceeds limit: %.1f%% > %.0f%%",
			math.Abs(var95)*100, m.limits.MaxVaR95*100))
	}

	if correlationRisk > m.limits.MaxCorrelation {
		score++

		warnings = append(warnings, fmt.Sprintf("high correlation risk: %.2f", correlationRisk))
	}

	if concentrationRisk > m.limits.MaxConcentration {
		score++

		warnings = append(warnings, fmt.Sprintf("position concentration too high: %.1f%%", concentrationRisk*100))
	}

	if leverageRatio > m.limits.MaxLeverage {
		score += 2

		warnings = append(warnings, fmt.Sprintf("leverage exceeds limit: %.2fx", leverageRatio))
	}

	level := LevelLow

	switch {
	case score >= m.limits.ExtremeScore:
		level = LevelExtreme
	case score >= m.limits.HighScore:
		level = LevelHigh
	case score >= m.limits.MediumScore:
		level = LevelMedium
	}

	if level == LevelExtreme {
		m.log.Warn("extreme risk level reached", zap.Strings("warnings", warnings))
	}

	return Metrics{
		Timestamp:         time.Now().UTC(),
		TotalExposure:     totalExposure,
		VaR95:             var95,
		CVaR95:            cvar95,
		CurrentDrawdown:   currentDrawdown,
		MaxDrawdown:       maxDrawdown,
		CorrelationRisk:   correlationRisk,
		ConcentrationRisk: concentrationRisk,
		LeverageRatio:     leverageRatio,
		RiskLevel:         level,
		Warnings:          warnings,
	}
}

// FilterSignals evaluates signals against the risk limits. When the risk
// level is extreme only sell signals pass. Otherwise each signal is checked
// individually for concentration, correlation with held symbols (new entries
// only) and drawdown proximity. Accepted signals keep their input order.
func (m *Manager) FilterSignals(signals []types.Signal, positions map[string]float64, prices map[string]float64, accountValue float64) (accepted []types.Signal, rejected []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.calculateMetricsLocked(accountValue, positions, prices, accountValue)

	if metrics.RiskLevel == LevelExtreme {
		for _, signal := range signals {
			if signal.Type == types.SignalTypeSell {
				accepted = append(accepted, signal)
			} else {
				rejected = append(rejected, fmt.Sprintf("%s: rejected due to extreme risk level", signal.Symbol))
			}
		}

		return accepted, rejected
	}

	nearDrawdownLimit := metrics.CurrentDrawdown < -m.limits.MaxDrawdown*0.8

	for _, signal := range signals {
		if signal.Type == types.SignalTypeBuy {
			price, ok := prices[signal.Symbol]
			if !ok {
				price = 1
			}

			resulting := positions[signal.Symbol] + signal.Quantity.TakeOr(0)
			if accountValue > 0 && resulting*price/accountValue > m.limits.MaxConcentration {
				rejected = append(rejected, fmt.Sprintf("%s: would exceed concentration limit", signal.Symbol))

				continue
			}

			if _, held := positions[signal.Symbol]; !held {
				corr := m.correlationWithPortfolioLocked(signal.Symbol, positions)
				if corr > m.limits.MaxCorrelation {
					rejected = append(rejected, fmt.Sprintf("%s: correlation too high (%.2f)", signal.Symbol, corr))

					continue
				}
			}

			if nearDrawdownLimit {
				rejected = append(rejected, fmt.Sprintf("%s: near max drawdown, reducing risk", signal.Symbol))

				continue
			}
		}

		accepted = append(accepted, signal)
	}

	return accepted, rejected
}

// SuggestPositionSizes sizes accepted buy signals from the risk budget: 2% of
// account value, scaled by signal strength, a risk-level multiplier and the
// symbol's correlation with the current portfolio. Quantities are rounded to
// two decimals.
func (m *Manager) SuggestPositionSizes(signals []types.Signal, accountValue float64, prices map[string]float64, positions map[string]float64) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := m.calculateMetricsLocked(accountValue, positions, prices, accountValue)

	multiplier := map[Level]float64{
		LevelLow:     1.0,
		LevelMedium:  0.7,
		LevelHigh:    0.3,
		LevelExtreme: 0.0,
	}[metrics.RiskLevel]

	suggestions := make(map[string]float64)

	for _, signal := range signals {
		if signal.Type != types.SignalTypeBuy {
			continue
		}

		size := accountValue * 0.02 * signal.Strength * multiplier

		if m.returns.contains(signal.Symbol) {
			size *= 1 - m.correlationWithPortfolioLocked(signal.Symbol, positions)
		}

		price, ok := prices[signal.Symbol]
		if !ok || price <= 0 {
			price = 1
		}

		suggestions[signal.Symbol] = math.Round(size/price*100) / 100
	}

	return suggestions
}

// correlationRiskLocked returns the highest absolute pairwise correlation
// among the held symbols.
func (m *Manager) correlationRiskLocked(positions map[string]float64) float64 {
	if len(positions) < 2 {
		return 0
	}

	matrix := m.correlationMatrixLocked()
	if len(matrix) == 0 {
		return 0
	}

	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	highest := 0.0

	for i, a := range symbols {
		for _, b := range symbols[i+1:] {
			if corr, ok := matrix[a][b]; ok && math.Abs(corr) > highest {
				highest = math.Abs(corr)
			}
		}
	}

	return highest
}

// correlationWithPortfolioLocked returns the highest absolute correlation of
// a symbol against the currently held symbols.
func (m *Manager) correlationWithPortfolioLocked(symbol string, positions map[string]float64) float64 {
	if len(positions) == 0 {
		return 0
	}

	matrix := m.correlationMatrixLocked()

	row, ok := matrix[symbol]
	if !ok {
		return 0
	}

	highest := 0.0

	for held := range positions {
		if corr, found := row[held]; found && math.Abs(corr) > highest {
			highest = math.Abs(corr)
		}
	}

	return highest
}

// correlationMatrixLocked returns the pairwise correlation matrix, recomputing
// it only when the returns buffer changed since the last computation.
func (m *Manager) correlationMatrixLocked() map[string]map[string]float64 {
	if m.returns.len() <= minCorrelationRows {
		return nil
	}

	if !m.correlationDirty {
		return m.correlation
	}

	symbols := m.returns.symbols()
	matrix := make(map[string]map[string]float64, len(symbols))

	for _, s := range symbols {
		matrix[s] = map[string]float64{s: 1}
	}

	for i, a := range symbols {
		for _, b := range symbols[i+1:] {
			x, y := m.returns.series(a, b)

			corr, ok := pearson(x, y)
			if !ok {
				continue
			}

			matrix[a][b] = corr
			matrix[b][a] = corr
		}
	}

	m.correlation = matrix
	m.correlationDirty = false

	return matrix
}

// pearson computes the Pearson correlation of two equal-length series. It
// reports false when fewer than two points exist or either variance is zero.
func pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, false
	}

	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}

	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64

	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return 0, false
	}

	return cov / math.Sqrt(varX*varY), true
}

// deepestDrawdown returns the most negative peak-to-trough decline over an
// equity series.
func deepestDrawdown(equity []float64) float64 {
	deepest := 0.0
	peak := math.Inf(-1)

	for _, e := range equity {
		if e > peak {
			peak = e
		}

		if peak > 0 {
			dd := (e - peak) / peak
			if dd < deepest {
				deepest = dd
			}
		}
	}

	return deepest
}

// varCVaR returns the 5th percentile of the return series and the mean of the
// tail at or below it.
func varCVaR(returns []float64) (var95, cvar95 float64) {
	if len(returns) == 0 {
		return 0, 0
	}

	var95 = percentile(returns, 5)

	var tailSum float64

	tailCount := 0

	for _, r := range returns {
		if r <= var95 {
			tailSum += r
			tailCount++
		}
	}

	if tailCount > 0 {
		cvar95 = tailSum / float64(tailCount)
	}

	return var95, cvar95
}

// percentile computes the p-th percentile with linear interpolation between
// adjacent ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))

	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)

	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
