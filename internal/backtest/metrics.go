package backtest

import (
	"math"
	"time"

	"github.com/tidemark-trading/tidemark/internal/types"
)

// tradingDaysPerYear annualizes per-day return statistics.
const tradingDaysPerYear = 252

// Metrics is the performance summary of one backtest run. Every ratio guards
// its denominator and reports 0 instead of NaN; profit factor alone reports
// +Inf when there are winning trades and no losing ones.
type Metrics struct {
	TotalReturn    float64 `yaml:"total_return"`
	TotalReturnPct float64 `yaml:"total_return_pct"`
	AnnualReturn   float64 `yaml:"annual_return"`
	Volatility     float64 `yaml:"volatility"`

	SharpeRatio    float64 `yaml:"sharpe_ratio"`
	SortinoRatio   float64 `yaml:"sortino_ratio"`
	CalmarRatio    float64 `yaml:"calmar_ratio"`
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`

	TotalTrades   int     `yaml:"total_trades"`
	WinningTrades int     `yaml:"winning_trades"`
	LosingTrades  int     `yaml:"losing_trades"`
	WinRate       float64 `yaml:"win_rate"`
	AvgWin        float64 `yaml:"avg_win"`
	AvgLoss       float64 `yaml:"avg_loss"`
	ProfitFactor  float64 `yaml:"profit_factor"`
	Expectancy    float64 `yaml:"expectancy"`
	TradesPerDay  float64 `yaml:"trades_per_day"`

	BestTrade  *types.Trade `yaml:"best_trade,omitempty"`
	WorstTrade *types.Trade `yaml:"worst_trade,omitempty"`
}

// ComputeMetrics derives the performance summary from the trade list and the
// equity curve. It is computed once per run, after the replay completes.
func ComputeMetrics(trades []types.Trade, equity []types.EquityPoint, initialCapital float64, start, end time.Time) Metrics {
	m := Metrics{TotalTrades: len(trades)}

	finalCapital := initialCapital
	if len(equity) > 0 {
		finalCapital = equity[len(equity)-1].TotalEquity
	}

	m.TotalReturn = finalCapital - initialCapital
	if initialCapital > 0 {
		m.TotalReturnPct = m.TotalReturn / initialCapital
	}

	m.AnnualReturn = annualizeReturn(m.TotalReturnPct, equity)
	m.MaxDrawdown, m.MaxDrawdownPct = maxDrawdown(equity)

	returns := stepReturns(equity)
	m.Volatility = populationStd(returns) * math.Sqrt(tradingDaysPerYear)
	m.SharpeRatio = sharpe(returns)
	m.SortinoRatio = sortino(returns)

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.AnnualReturn / m.MaxDrawdownPct
	}

	fillTradeStats(&m, trades)

	days := end.Sub(start).Hours() / 24
	if days > 0 {
		m.TradesPerDay = float64(len(trades)) / days
	}

	return m
}

func fillTradeStats(m *Metrics, trades []types.Trade) {
	if len(trades) == 0 {
		return
	}

	var grossProfit, grossLoss, totalPnL float64

	var best, worst *types.Trade

	for i := range trades {
		trade := trades[i]
		totalPnL += trade.RealizedPnL

		switch {
		case trade.RealizedPnL > 0:
			m.WinningTrades++
			grossProfit += trade.RealizedPnL
		case trade.RealizedPnL < 0:
			m.LosingTrades++
			grossLoss += -trade.RealizedPnL
		}

		if best == nil || trade.RealizedPnL > best.RealizedPnL {
			best = &trades[i]
		}

		if worst == nil || trade.RealizedPnL < worst.RealizedPnL {
			worst = &trades[i]
		}
	}

	m.WinRate = float64(m.WinningTrades) / float64(len(trades))
	m.Expectancy = totalPnL / float64(len(trades))
	m.BestTrade = best
	m.WorstTrade = worst

	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}

	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLoss / float64(m.LosingTrades)
	}

	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else {
		m.ProfitFactor = math.Inf(1)
	}
}

// stepReturns is the per-step percentage change of total equity.
func stepReturns(equity []types.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}

	out := make([]float64, 0, len(equity)-1)

	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].TotalEquity
		if prev > 0 {
			out = append(out, (equity[i].TotalEquity-prev)/prev)
		}
	}

	return out
}

func sharpe(returns []float64) float64 {
	std := populationStd(returns)
	if std == 0 {
		return 0
	}

	return mean(returns) / std * math.Sqrt(tradingDaysPerYear)
}

func sortino(returns []float64) float64 {
	var downside []float64

	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}

	std := populationStd(downside)
	if std == 0 {
		return 0
	}

	return mean(returns) / std * math.Sqrt(tradingDaysPerYear)
}

// annualizeReturn compounds the total return over the number of distinct
// observation days, treating each as one trading day.
func annualizeReturn(totalReturnPct float64, equity []types.EquityPoint) float64 {
	days := distinctDays(equity)
	if days == 0 {
		return 0
	}

	factor := float64(tradingDaysPerYear) / float64(days)

	return math.Pow(1+totalReturnPct, factor) - 1
}

func distinctDays(equity []types.EquityPoint) int {
	seen := make(map[string]struct{})

	for _, point := range equity {
		seen[point.Time.Format("2006-01-02")] = struct{}{}
	}

	return len(seen)
}

// maxDrawdown returns the deepest peak-to-trough decline of the equity curve,
// both in account currency and as a fraction of the peak.
func maxDrawdown(equity []types.EquityPoint) (absolute, pct float64) {
	if len(equity) == 0 {
		return 0, 0
	}

	peak := equity[0].TotalEquity

	for _, point := range equity {
		if point.TotalEquity > peak {
			peak = point.TotalEquity
		}

		drawdown := peak - point.TotalEquity
		if drawdown > absolute {
			absolute = drawdown

			if peak > 0 {
				pct = drawdown / peak
			}
		}
	}

	return absolute, pct
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mu := mean(values)
	variance := 0.0

	for _, v := range values {
		variance += (v - mu) * (v - mu)
	}

	return math.Sqrt(variance / float64(len(values)))
}
