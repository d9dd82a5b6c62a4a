package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/types"
)

type RiskManagerTestSuite struct {
	suite.Suite

	manager *Manager
}

func TestRiskManagerSuite(t *testing.T) {
	suite.Run(t, new(RiskManagerTestSuite))
}

func (suite *RiskManagerTestSuite) SetupTest() {
	suite.manager = NewManager(DefaultLimits(), logger.NewTestLogger())
}

func (suite *RiskManagerTestSuite) seedEquityPeak(peak float64) {
	suite.manager.UpdateHistory(peak, nil, nil, time.Now())
}

// seedCorrelatedPair feeds enough history that two symbols end up perfectly
// correlated in the returns buffer.
func (suite *RiskManagerTestSuite) seedCorrelatedPair(a, b string) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		price := 100.0 + float64(i)
		positions := map[string]float64{a: 10, b: 10}
		prices := map[string]float64{a: price, b: price}

		suite.manager.UpdateHistory(100000, positions, prices, start.AddDate(0, 0, i))
	}
}

func (suite *RiskManagerTestSuite) TestMetricsOnEmptyHistory() {
	metrics := suite.manager.CalculateMetrics(100000, nil, nil, 100000)

	suite.Equal(LevelLow, metrics.RiskLevel)
	suite.Zero(metrics.TotalExposure)
	suite.Zero(metrics.CurrentDrawdown)
	suite.Zero(metrics.VaR95)
	suite.Empty(metrics.Warnings)
}

func (suite *RiskManagerTestSuite) TestRiskLevelMonotonicInDrawdown() {
	suite.seedEquityPeak(100000)

	previous := -1

	for _, equity := range []float64{100000, 92000, 88000, 78000, 70000} {
		metrics := suite.manager.CalculateMetrics(equity, nil, nil, equity)
		suite.GreaterOrEqual(metrics.RiskLevel.Severity(), previous)

		previous = metrics.RiskLevel.Severity()
	}
}

func (suite *RiskManagerTestSuite) TestDrawdownAndLeverageReachExtreme() {
	suite.seedEquityPeak(100000)

	positions := map[string]float64{"AAPL": 800}
	prices := map[string]float64{"AAPL": 100}

	// 30% drawdown scores 3 and 80k exposure against 70k equity scores 2.
	metrics := suite.manager.CalculateMetrics(70000, positions, prices, 70000)

	suite.Equal(LevelExtreme, metrics.RiskLevel)
	suite.NotEmpty(metrics.Warnings)
	suite.InDelta(-0.30, metrics.CurrentDrawdown, 1e-9)
	suite.InDelta(80000.0/70000.0, metrics.LeverageRatio, 1e-9)
}

func (suite *RiskManagerTestSuite) TestCircuitBreakerOnlyPassesSells() {
	suite.seedEquityPeak(100000)

	positions := map[string]float64{"AAPL": 800}
	prices := map[string]float64{"AAPL": 100}

	signals := []types.Signal{
		{Symbol: "MSFT", Type: types.SignalTypeBuy, Strength: 0.9},
		{Symbol: "AAPL", Type: types.SignalTypeSell, Strength: 0.8},
		{Symbol: "NVDA", Type: types.SignalTypeBuy, Strength: 0.7},
	}

	accepted, rejected := suite.manager.FilterSignals(signals, positions, prices, 70000)

	suite.Require().Len(accepted, 1)
	suite.Equal(types.SignalTypeSell, accepted[0].Type)
	suite.Len(rejected, 2)

	for _, reason := range rejected {
		suite.Contains(reason, "extreme risk level")
	}
}

func (suite *RiskManagerTestSuite) TestConcentrationRejection() {
	signal := types.Signal{Symbol: "AAPL", Type: types.SignalTypeBuy, Strength: 0.9}
	signal = signal.WithQuantity(300)

	prices := map[string]float64{"AAPL": 100}

	accepted, rejected := suite.manager.FilterSignals([]types.Signal{signal}, map[string]float64{}, prices, 100000)

	suite.Empty(accepted)
	suite.Require().Len(rejected, 1)
	suite.Contains(rejected[0], "concentration")
}

func (suite *RiskManagerTestSuite) TestCorrelationRejectionForNewEntry() {
	suite.seedCorrelatedPair("AAPL", "MSFT")

	signal := types.Signal{Symbol: "MSFT", Type: types.SignalTypeBuy, Strength: 0.8}
	signal = signal.WithQuantity(10)

	positions := map[string]float64{"AAPL": 10}
	prices := map[string]float64{"AAPL": 130, "MSFT": 130}

	accepted, rejected := suite.manager.FilterSignals([]types.Signal{signal}, positions, prices, 100000)

	suite.Empty(accepted)
	suite.Require().Len(rejected, 1)
	suite.Contains(rejected[0], "correlation too high")
}

func (suite *RiskManagerTestSuite) TestCorrelationRiskBetweenHeldSymbols() {
	suite.seedCorrelatedPair("AAPL", "MSFT")

	positions := map[string]float64{"AAPL": 10, "MSFT": 10}
	prices := map[string]float64{"AAPL": 130, "MSFT": 130}

	metrics := suite.manager.CalculateMetrics(100000, positions, prices, 100000)

	suite.InDelta(1.0, metrics.CorrelationRisk, 1e-9)
	suite.GreaterOrEqual(metrics.RiskLevel.Severity(), LevelMedium.Severity())
}

func (suite *RiskManagerTestSuite) TestSuggestPositionSizes() {
	signals := []types.Signal{
		{Symbol: "AAPL", Type: types.SignalTypeBuy, Strength: 1.0},
		{Symbol: "MSFT", Type: types.SignalTypeBuy, Strength: 0.5},
		{Symbol: "NVDA", Type: types.SignalTypeSell, Strength: 0.9},
	}

	prices := map[string]float64{"AAPL": 50, "MSFT": 50, "NVDA": 50}

	sizes := suite.manager.SuggestPositionSizes(signals, 100000, prices, nil)

	// 2% of 100k is 2000, scaled by strength, at price 50.
	suite.InDelta(40.0, sizes["AAPL"], 1e-9)
	suite.InDelta(20.0, sizes["MSFT"], 1e-9)
	suite.NotContains(sizes, "NVDA")
}

func (suite *RiskManagerTestSuite) TestReport() {
	suite.seedCorrelatedPair("AAPL", "MSFT")

	report := suite.manager.Report()

	suite.Equal(DefaultLimits(), report.Limits)
	suite.InDelta(1.0, report.Correlation["AAPL"]["MSFT"], 1e-9)
	suite.NotZero(report.VaR.Volatility)
}

func (suite *RiskManagerTestSuite) TestDeepestDrawdown() {
	suite.InDelta(-0.5, deepestDrawdown([]float64{100, 120, 60, 90}), 1e-9)
	suite.Zero(deepestDrawdown([]float64{100, 110, 120}))
	suite.Zero(deepestDrawdown(nil))
}

func (suite *RiskManagerTestSuite) TestPercentileInterpolation() {
	values := []float64{1, 2, 3, 4, 5}

	suite.InDelta(1.2, percentile(values, 5), 1e-9)
	suite.InDelta(3.0, percentile(values, 50), 1e-9)
	suite.Zero(percentile(nil, 5))
}

func (suite *RiskManagerTestSuite) TestVarCVaRZeroGuards() {
	var95, cvar95 := varCVaR(nil)

	suite.Zero(var95)
	suite.Zero(cvar95)
}
