package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

type StrategyTestSuite struct {
	suite.Suite

	registry *Registry
}

func TestStrategySuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}

func (suite *StrategyTestSuite) SetupTest() {
	suite.registry = NewRegistry()
}

func makeBars(symbol string, closes []float64, volumes []float64) []types.Bar {
	start := time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))

	for i, c := range closes {
		volume := 100.0
		if volumes != nil {
			volume = volumes[i]
		}

		bars[i] = types.Bar{
			Symbol: symbol,
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: volume,
		}
	}

	return bars
}

func (suite *StrategyTestSuite) TestRegistryBuiltins() {
	suite.ElementsMatch([]string{MeanReversionName, MomentumName, SMACrossoverName}, suite.registry.Names())

	for _, name := range suite.registry.Names() {
		s, err := suite.registry.Create(name, "")
		suite.Require().NoError(err)
		suite.Equal(name, s.Name())
	}
}

func (suite *StrategyTestSuite) TestRegistryUnknownStrategy() {
	_, err := suite.registry.Create("does_not_exist", "")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStrategyNotRegistered))
}

func (suite *StrategyTestSuite) TestRegistryRejectsInvalidConfig() {
	_, err := suite.registry.Create(SMACrossoverName, "fast_period: 30\nslow_period: 10\n")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeStrategyConfigError))
}

func (suite *StrategyTestSuite) TestSMACrossoverEmitsBuyOnCrossUp() {
	// Decline long enough to pin the fast average below the slow one, then a
	// sharp recovery forces a cross.
	closes := make([]float64, 0, 80)
	price := 120.0

	for i := 0; i < 40; i++ {
		price -= 0.5
		closes = append(closes, price)
	}

	for i := 0; i < 40; i++ {
		price += 1.5
		closes = append(closes, price)
	}

	s := NewSMACrossover(DefaultSMACrossoverConfig())
	suite.Require().NoError(s.Validate())

	sawBuy := false

	for end := 31; end <= len(closes); end++ {
		signals, err := s.Execute(makeBars("AAPL", closes[:end], nil), nil)
		suite.Require().NoError(err)

		for _, sig := range signals {
			if sig.Type == types.SignalTypeBuy {
				sawBuy = true

				suite.Equal("AAPL", sig.Symbol)
				suite.Greater(sig.Strength, 0.0)
				suite.LessOrEqual(sig.Strength, 1.0)
			}
		}
	}

	suite.True(sawBuy)
}

func (suite *StrategyTestSuite) TestSMACrossoverIgnoresBearishCrossWithoutPosition() {
	closes := make([]float64, 0, 80)
	price := 80.0

	for i := 0; i < 40; i++ {
		price += 0.5
		closes = append(closes, price)
	}

	for i := 0; i < 40; i++ {
		price -= 1.5
		closes = append(closes, price)
	}

	s := NewSMACrossover(DefaultSMACrossoverConfig())

	for end := 31; end <= len(closes); end++ {
		signals, err := s.Execute(makeBars("AAPL", closes[:end], nil), map[string]float64{})
		suite.Require().NoError(err)
		suite.Empty(signals)
	}
}

func (suite *StrategyTestSuite) TestSMACrossoverInsufficientData() {
	s := NewSMACrossover(DefaultSMACrossoverConfig())

	_, err := s.Execute(makeBars("AAPL", []float64{1, 2, 3}, nil), nil)
	suite.Require().Error(err)
	suite.True(errors.IsInsufficientDataError(err))
}

func (suite *StrategyTestSuite) TestMomentumBuyOnAdvanceWithVolumeSurge() {
	closes := make([]float64, 30)
	volumes := make([]float64, 30)

	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}

	// Final ten bars rally 8% and the last bar trades triple the average volume.
	for i := 20; i < 30; i++ {
		closes[i] = closes[i-1] * 1.008
		volumes[i] = 100
	}

	volumes[29] = 300

	s := NewMomentum(DefaultMomentumConfig())
	suite.Require().NoError(s.Validate())

	signals, err := s.Execute(makeBars("NVDA", closes, volumes), nil)
	suite.Require().NoError(err)
	suite.Require().Len(signals, 1)
	suite.Equal(types.SignalTypeBuy, signals[0].Type)
	suite.InDelta(0.5, signals[0].Strength, 1e-9)
}

func (suite *StrategyTestSuite) TestMomentumSellRequiresPosition() {
	closes := make([]float64, 30)
	volumes := make([]float64, 30)

	for i := range closes {
		closes[i] = 100
		volumes[i] = 100
	}

	for i := 20; i < 30; i++ {
		closes[i] = closes[i-1] * 0.992
	}

	volumes[29] = 300

	s := NewMomentum(DefaultMomentumConfig())

	signals, err := s.Execute(makeBars("NVDA", closes, volumes), map[string]float64{})
	suite.Require().NoError(err)
	suite.Empty(signals)

	signals, err = s.Execute(makeBars("NVDA", closes, volumes), map[string]float64{"NVDA": 10})
	suite.Require().NoError(err)
	suite.Require().Len(signals, 1)
	suite.Equal(types.SignalTypeSell, signals[0].Type)
}

func (suite *StrategyTestSuite) TestMeanReversionEntryAndExit() {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100
	}

	// A single sharp drop stretches the z-score far below the entry band.
	closes[29] = 80

	s := NewMeanReversion(DefaultMeanReversionConfig())
	suite.Require().NoError(s.Validate())

	signals, err := s.Execute(makeBars("MSFT", closes, nil), nil)
	suite.Require().NoError(err)
	suite.Require().Len(signals, 1)
	suite.Equal(types.SignalTypeBuy, signals[0].Type)

	// Once price sits back on its mean, a held position is closed.
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}

	signals, err = s.Execute(makeBars("MSFT", flat, nil), map[string]float64{"MSFT": 5})
	suite.Require().NoError(err)
	suite.Require().Len(signals, 1)
	suite.Equal(types.SignalTypeSell, signals[0].Type)
}
