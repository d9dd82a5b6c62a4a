package backtest

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/strategy"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
	"github.com/tidemark-trading/tidemark/pkg/marketdata"
)

// flipStrategy buys when flat and sells when holding, always at the same
// confidence.
type flipStrategy struct {
	confidence float64
}

func (s *flipStrategy) Name() string { return "flip" }

func (s *flipStrategy) Validate() error { return nil }

func (s *flipStrategy) Execute(history []types.Bar, positions map[string]float64) ([]types.Signal, error) {
	if len(history) == 0 {
		return nil, nil
	}

	last := history[len(history)-1]

	signalType := types.SignalTypeBuy
	if positions[last.Symbol] > 0 {
		signalType = types.SignalTypeSell
	}

	return []types.Signal{{
		StrategyID: "flip",
		Symbol:     last.Symbol,
		Type:       signalType,
		Strength:   s.confidence,
		Reason:     "flip",
		Time:       last.Time,
	}}, nil
}

var _ strategy.Strategy = (*flipStrategy)(nil)

type EngineTestSuite struct {
	suite.Suite
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func seriesSource(symbol string, start time.Time, step time.Duration, closes []float64) *marketdata.MemorySource {
	source := marketdata.NewMemorySource()

	for i, c := range closes {
		source.Add(types.Bar{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i) * step),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 100,
		})
	}

	return source
}

func (suite *EngineTestSuite) runEngine(params Params, strategies []strategy.Strategy, source HistoricalSource, symbols []string, start, end time.Time) *Result {
	engine, err := NewEngine(params, strategies, logger.NewTestLogger())
	suite.Require().NoError(err)

	result, err := engine.Run(context.Background(), source, symbols, start, end)
	suite.Require().NoError(err)

	return result
}

func (suite *EngineTestSuite) TestFlatSeriesProducesNoTrades() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	closes := make([]float64, 30*24)

	for i := range closes {
		closes[i] = 100
	}

	source := seriesSource("AAPL", start, time.Hour, closes)

	params := DefaultParams()
	params.StepInterval = Duration(time.Hour)
	params.TechnicalEntries = false
	params.TechnicalExits = false

	end := start.Add(time.Duration(len(closes)-1) * time.Hour)
	result := suite.runEngine(params, nil, source, []string{"AAPL"}, start, end)

	suite.Empty(result.Trades)
	suite.Equal(params.InitialCapital, result.FinalCapital)
}

func (suite *EngineTestSuite) TestMonotonicRiseHitsTakeProfit() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := make([]float64, 140)
	price := 100.0

	for i := range closes {
		closes[i] = price
		price *= 1.003
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)

	params := DefaultParams()
	params.TechnicalEntries = false
	params.TechnicalExits = false
	params.MaxPositions = 1

	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)
	result := suite.runEngine(params, nil, source, []string{"AAPL"}, start, end)

	suite.Require().NotEmpty(result.Trades)

	sawTakeProfit := false

	for _, trade := range result.Trades {
		if strings.HasPrefix(trade.Reason, "take profit") && trade.RealizedPnL > 0 {
			sawTakeProfit = true
		}
	}

	suite.True(sawTakeProfit)
	suite.Greater(result.FinalCapital, result.InitialCapital)
}

func (suite *EngineTestSuite) TestDeclineTriggersStopLossNearLimit() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := []float64{100, 100.3, 100.6, 100.9, 101.2}
	price := 101.2

	for i := 0; i < 12; i++ {
		price *= 0.995
		closes = append(closes, price)
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)

	params := DefaultParams()
	params.TechnicalEntries = false
	params.TechnicalExits = false

	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)
	result := suite.runEngine(params, nil, source, []string{"AAPL"}, start, end)

	suite.Require().Len(result.Trades, 1)

	trade := result.Trades[0]
	suite.Contains(trade.Reason, "stop loss")
	suite.InDelta(-0.02, trade.RealizedPnLPct, 0.01)
	suite.Negative(trade.RealizedPnL)
	suite.Equal("momentum", trade.StrategyID)
}

func (suite *EngineTestSuite) TestTrailingStopRatchetsUpwardOnly() {
	engine, err := NewEngine(DefaultParams(), nil, logger.NewTestLogger())
	suite.Require().NoError(err)

	engine.params.StopLossEnabled = false
	engine.params.TakeProfitEnabled = false
	engine.params.TechnicalExits = false

	state := &runState{positions: make(map[string]*openPosition)}
	position := &openPosition{Position: types.NewPosition("AAPL", 10, 100, time.Now())}

	lastStop := 0.0

	for _, price := range []float64{100.5, 101.5, 102, 103, 104} {
		position.MarkPrice(price)

		_, triggered := engine.exitReason(state, position, price)
		suite.False(triggered)

		if position.TrailingStop.IsSome() {
			stop := position.TrailingStop.Unwrap()
			suite.GreaterOrEqual(stop, lastStop)

			lastStop = stop
		}
	}

	// Armed at 1.5% profit and ratcheted to 104 * 0.98.
	suite.InDelta(104*0.98, lastStop, 1e-9)

	position.MarkPrice(101)

	reason, triggered := engine.exitReason(state, position, 101)
	suite.True(triggered)
	suite.Contains(reason, "trailing stop")
}

func (suite *EngineTestSuite) TestEntryBatchCappedAtThree() {
	start := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	source := marketdata.NewMemorySource()

	symbols := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	for _, symbol := range symbols {
		price := 100.0

		for i := 0; i < 3; i++ {
			source.Add(types.Bar{
				Symbol: symbol,
				Time:   start.Add(time.Duration(i) * 15 * time.Minute),
				Close:  price,
				Volume: 100,
			})
			price *= 1.01
		}
	}

	params := DefaultParams()
	params.TechnicalEntries = false
	params.TechnicalExits = false
	params.StopLossEnabled = false
	params.TakeProfitEnabled = false
	params.TrailingStopEnabled = false

	end := start.Add(30 * time.Minute)
	result := suite.runEngine(params, nil, source, symbols, start, end)

	// Only the middle step can open positions, and it admits at most three.
	suite.Len(result.Trades, maxEntriesPerStep)

	for _, trade := range result.Trades {
		suite.Equal("end of backtest", trade.Reason)
	}
}

func (suite *EngineTestSuite) TestTechnicalEntriesAndExits() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := make([]float64, 20)

	for i := range closes {
		closes[i] = 100
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)

	params := DefaultParams()
	params.MomentumEnabled = false

	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)
	result := suite.runEngine(params, []strategy.Strategy{&flipStrategy{confidence: 0.9}}, source, []string{"AAPL"}, start, end)

	suite.Require().NotEmpty(result.Trades)
	suite.Contains(result.Trades[0].Reason, "technical exit")
	suite.Equal("flip", result.Trades[0].StrategyID)
}

func (suite *EngineTestSuite) TestLowConfidenceSignalsIgnored() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := make([]float64, 20)

	for i := range closes {
		closes[i] = 100
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)

	params := DefaultParams()
	params.MomentumEnabled = false

	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)
	result := suite.runEngine(params, []strategy.Strategy{&flipStrategy{confidence: 0.4}}, source, []string{"AAPL"}, start, end)

	suite.Empty(result.Trades)
}

func (suite *EngineTestSuite) TestIdempotentRuns() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := make([]float64, 140)
	price := 100.0

	for i := range closes {
		closes[i] = price
		price *= 1.003
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)

	params := DefaultParams()
	params.TechnicalEntries = false
	params.TechnicalExits = false

	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)

	first := suite.runEngine(params, nil, source, []string{"AAPL"}, start, end)
	second := suite.runEngine(params, nil, source, []string{"AAPL"}, start, end)

	suite.Equal(first.EquityCurve, second.EquityCurve)
	suite.Equal(first.FinalCapital, second.FinalCapital)
	suite.Require().Equal(len(first.Trades), len(second.Trades))

	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]

		// Trade IDs are freshly generated per run; everything else matches.
		a.ID, b.ID = "", ""
		suite.Equal(a, b)
	}
}

func (suite *EngineTestSuite) TestNoDataReturnsEmptyResult() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	params := DefaultParams()
	result := suite.runEngine(params, nil, marketdata.NewMemorySource(), []string{"AAPL"}, start, end)

	suite.Empty(result.Trades)
	suite.Equal(params.InitialCapital, result.FinalCapital)
	suite.Zero(result.Metrics.ProfitFactor)
}

func (suite *EngineTestSuite) TestCancelledContext() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	source := seriesSource("AAPL", start, time.Hour, []float64{100, 101, 102})

	engine, err := NewEngine(DefaultParams(), nil, logger.NewTestLogger())
	suite.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Run(ctx, source, []string{"AAPL"}, start, start.Add(2*time.Hour))
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestCancelled))
}

func (suite *EngineTestSuite) TestInvalidParamsRejected() {
	params := DefaultParams()
	params.InitialCapital = 0

	_, err := NewEngine(params, nil, logger.NewTestLogger())
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeBacktestConfigError))
}

func (suite *EngineTestSuite) TestRunSetParallel() {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	closes := make([]float64, 50)
	price := 100.0

	for i := range closes {
		closes[i] = price
		price *= 1.002
	}

	source := seriesSource("AAPL", start, 15*time.Minute, closes)
	end := start.Add(time.Duration(len(closes)-1) * 15 * time.Minute)

	params := DefaultParams()
	params.TechnicalEntries = false
	params.TechnicalExits = false

	runs := []Run{
		{Name: "a", Params: params, Symbols: []string{"AAPL"}, Start: start, End: end},
		{Name: "b", Params: params, Symbols: []string{"AAPL"}, Start: start, End: end},
		{Name: "c", Params: params, Symbols: []string{"AAPL"}, Start: start, End: end},
	}

	results, err := RunSet(context.Background(), source, runs, 2, logger.NewTestLogger())
	suite.Require().NoError(err)
	suite.Require().Len(results, 3)

	// Disjoint run state means identical inputs give identical outcomes.
	suite.Equal(results[0].FinalCapital, results[1].FinalCapital)
	suite.Equal(results[1].FinalCapital, results[2].FinalCapital)
}

type MetricsTestSuite struct {
	suite.Suite
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsTestSuite))
}

func makeTrade(pnl float64) types.Trade {
	entry := 100.0
	exit := entry + pnl/10

	return types.NewClosedTrade("AAPL", 10, entry, exit,
		time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
		0, 0, "take profit", "momentum")
}

func (suite *MetricsTestSuite) TestZeroTradesYieldsZeros() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	m := ComputeMetrics(nil, nil, 100000, start, start.AddDate(0, 0, 30))

	suite.Zero(m.WinRate)
	suite.Zero(m.SharpeRatio)
	suite.Zero(m.SortinoRatio)
	suite.Zero(m.CalmarRatio)
	suite.Zero(m.ProfitFactor)
	suite.Zero(m.TradesPerDay)
	suite.False(math.IsNaN(m.TotalReturnPct))
}

func (suite *MetricsTestSuite) TestAllWinnersGiveInfiniteProfitFactor() {
	trades := []types.Trade{makeTrade(50), makeTrade(30)}
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	m := ComputeMetrics(trades, nil, 100000, start, start.AddDate(0, 0, 10))

	suite.True(math.IsInf(m.ProfitFactor, 1))
	suite.Equal(1.0, m.WinRate)
	suite.Equal(2, m.WinningTrades)
	suite.Zero(m.LosingTrades)
	suite.InDelta(40.0, m.Expectancy, 1e-9)
}

func (suite *MetricsTestSuite) TestMixedTrades() {
	trades := []types.Trade{makeTrade(100), makeTrade(-50)}
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	m := ComputeMetrics(trades, nil, 100000, start, start.AddDate(0, 0, 10))

	suite.InDelta(2.0, m.ProfitFactor, 1e-9)
	suite.InDelta(0.5, m.WinRate, 1e-9)
	suite.InDelta(100.0, m.AvgWin, 1e-9)
	suite.InDelta(-50.0, m.AvgLoss, 1e-9)
	suite.InDelta(0.2, m.TradesPerDay, 1e-9)
	suite.Require().NotNil(m.BestTrade)
	suite.Require().NotNil(m.WorstTrade)
	suite.InDelta(100.0, m.BestTrade.RealizedPnL, 1e-9)
	suite.InDelta(-50.0, m.WorstTrade.RealizedPnL, 1e-9)
}

func (suite *MetricsTestSuite) TestFlatEquityGivesZeroSharpe() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	equity := make([]types.EquityPoint, 10)

	for i := range equity {
		equity[i] = types.EquityPoint{
			Time:        start.AddDate(0, 0, i),
			TotalEquity: 100000,
		}
	}

	m := ComputeMetrics(nil, equity, 100000, start, start.AddDate(0, 0, 9))

	suite.Zero(m.SharpeRatio)
	suite.Zero(m.SortinoRatio)
	suite.Zero(m.MaxDrawdownPct)
}

func (suite *MetricsTestSuite) TestMaxDrawdown() {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	values := []float64{100000, 120000, 90000, 110000}
	equity := make([]types.EquityPoint, len(values))

	for i, v := range values {
		equity[i] = types.EquityPoint{Time: start.AddDate(0, 0, i), TotalEquity: v}
	}

	m := ComputeMetrics(nil, equity, 100000, start, start.AddDate(0, 0, 3))

	suite.InDelta(30000.0, m.MaxDrawdown, 1e-9)
	suite.InDelta(0.25, m.MaxDrawdownPct, 1e-9)
}
