package indicator

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/tidemark-trading/tidemark/pkg/errors"
)

type IndicatorTestSuite struct {
	suite.Suite
}

func TestIndicatorSuite(t *testing.T) {
	suite.Run(t, new(IndicatorTestSuite))
}

func (suite *IndicatorTestSuite) TestSMA() {
	closes := []float64{1, 2, 3, 4, 5}

	value, err := SMA(closes, 5)
	suite.Require().NoError(err)
	suite.InDelta(3.0, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestSMAInsufficientData() {
	_, err := SMA([]float64{1, 2, 3}, 5)
	suite.Require().Error(err)
	suite.True(errors.IsInsufficientDataError(err))
}

func (suite *IndicatorTestSuite) TestEMAFollowsTrend() {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	fast, err := EMA(closes, 5)
	suite.Require().NoError(err)

	slow, err := EMA(closes, 20)
	suite.Require().NoError(err)

	// In a steady uptrend the faster average sits above the slower one.
	suite.Greater(fast, slow)
}

func (suite *IndicatorTestSuite) TestRSIExtremes() {
	rising := make([]float64, 30)
	falling := make([]float64, 30)

	for i := range rising {
		rising[i] = 100 + float64(i)
		falling[i] = 200 - float64(i)
	}

	up, err := RSI(rising, 14)
	suite.Require().NoError(err)
	suite.Greater(up, 70.0)

	down, err := RSI(falling, 14)
	suite.Require().NoError(err)
	suite.Less(down, 30.0)
}

func (suite *IndicatorTestSuite) TestROCReturnsFraction() {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 110}

	value, err := ROC(closes, 10)
	suite.Require().NoError(err)
	suite.InDelta(0.10, value, 1e-9)
}

func (suite *IndicatorTestSuite) TestATRMismatchedLengths() {
	closes := make([]float64, 20)
	highs := make([]float64, 19)
	lows := make([]float64, 20)

	for i := range closes {
		closes[i] = 100
		lows[i] = 99
	}

	_, err := ATR(highs, lows, closes, 14)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *IndicatorTestSuite) TestBollingerBandsOrdering() {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i%5)
	}

	upper, middle, lower, err := BollingerBands(closes, 20, 2.0)
	suite.Require().NoError(err)
	suite.Greater(upper, middle)
	suite.Greater(middle, lower)
}

func (suite *IndicatorTestSuite) TestZScore() {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}

	closes = append(closes, 100)

	value, err := ZScore(closes, 20)
	suite.Require().NoError(err)
	suite.InDelta(0.0, value, 1e-9)
}
