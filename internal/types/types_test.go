package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type TypesTestSuite struct {
	suite.Suite
}

func TestTypesSuite(t *testing.T) {
	suite.Run(t, new(TypesTestSuite))
}

func (suite *TypesTestSuite) TestSignalWithQuantityDoesNotMutateOriginal() {
	original := Signal{
		StrategyID: "sma_crossover",
		Symbol:     "AAPL",
		Type:       SignalTypeBuy,
		Strength:   0.8,
		Reason:     "bullish crossover",
		Metadata:   map[string]any{"price": 100.0},
		Time:       time.Now(),
	}

	modified := original.WithQuantity(10)

	suite.True(modified.Quantity.IsSome())
	suite.Equal(10.0, modified.Quantity.Unwrap())
	suite.True(original.Quantity.IsNone())
}

func (suite *TypesTestSuite) TestSignalWithMetadataCopiesMap() {
	original := Signal{
		StrategyID: "momentum",
		Symbol:     "SPY",
		Type:       SignalTypeBuy,
		Strength:   0.6,
		Metadata:   map[string]any{},
	}

	modified := original.WithMetadata("allocation", 0.25)

	suite.Equal(0.25, modified.MetadataFloat("allocation", 0))
	suite.NotContains(original.Metadata, "allocation")
}

func (suite *TypesTestSuite) TestMetadataFloatFallback() {
	s := Signal{Metadata: map[string]any{"allocation": "not-a-number"}}
	suite.Equal(0.25, s.MetadataFloat("allocation", 0.25))
	suite.Equal(0.25, s.MetadataFloat("missing", 0.25))
}

func (suite *TypesTestSuite) TestPositionMarkPrice() {
	pos := NewPosition("AAPL", 10, 100, time.Now())

	pos.MarkPrice(110)
	suite.Equal(110.0, pos.CurrentPrice)
	suite.InDelta(100.0, pos.UnrealizedPnL, 1e-9)
	suite.InDelta(0.10, pos.UnrealizedPnLPct, 1e-9)
	suite.Equal(110.0, pos.HighestPrice)
	suite.Equal(100.0, pos.LowestPrice)

	pos.MarkPrice(95)
	suite.Equal(110.0, pos.HighestPrice)
	suite.Equal(95.0, pos.LowestPrice)
	suite.InDelta(-0.05, pos.UnrealizedPnLPct, 1e-9)
}

func (suite *TypesTestSuite) TestPositionAddQuantity() {
	pos := NewPosition("AAPL", 10, 100, time.Now())
	pos.AddQuantity(10, 120)

	suite.Equal(20.0, pos.Quantity)
	suite.InDelta(110.0, pos.AvgEntryPrice, 1e-9)
	suite.InDelta(2400.0, pos.MarketValue(), 1e-9)
}

func (suite *TypesTestSuite) TestNewClosedTrade() {
	entryTime := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	exitTime := entryTime.Add(2 * time.Hour)

	trade := NewClosedTrade("AAPL", 10, 100, 110, entryTime, exitTime, 2, 0.5, "take profit", "momentum")

	suite.NotEmpty(trade.ID)
	suite.Equal(SideBuy, trade.Side)
	suite.InDelta(98.0, trade.RealizedPnL, 1e-9)
	suite.InDelta(0.10, trade.RealizedPnLPct, 1e-9)
	suite.Equal("take profit", trade.Reason)
	suite.Equal(2*time.Hour, trade.HoldingTime())
}

func (suite *TypesTestSuite) TestBarSeriesExtraction() {
	bars := []Bar{
		{Close: 1, High: 2, Low: 0.5, Volume: 100},
		{Close: 2, High: 3, Low: 1.5, Volume: 200},
	}

	suite.Equal([]float64{1, 2}, Closes(bars))
	suite.Equal([]float64{2, 3}, Highs(bars))
	suite.Equal([]float64{0.5, 1.5}, Lows(bars))
	suite.Equal([]float64{100, 200}, Volumes(bars))
}
