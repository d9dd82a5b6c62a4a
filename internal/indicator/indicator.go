// Package indicator provides technical indicator helpers used by strategies
// and by the risk-adjusted position sizing. All functions are pure: they take
// a price series oldest-first and return the latest value, with an explicit
// InsufficientDataError when the series is shorter than the indicator needs.
package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// SMA returns the latest simple moving average over the given period.
func SMA(closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period); err != nil {
		return 0, err
	}

	series := talib.Sma(closes, period)

	return series[len(series)-1], nil
}

// EMA returns the latest exponential moving average over the given period.
func EMA(closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period); err != nil {
		return 0, err
	}

	series := talib.Ema(closes, period)

	return series[len(series)-1], nil
}

// RSI returns the latest relative strength index over the given period.
func RSI(closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period+1); err != nil {
		return 0, err
	}

	series := talib.Rsi(closes, period)

	return series[len(series)-1], nil
}

// ROC returns the latest rate of change over the given period, as a fraction
// (0.05 means +5%).
func ROC(closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period+1); err != nil {
		return 0, err
	}

	series := talib.Roc(closes, period)

	// talib reports ROC in percent.
	return series[len(series)-1] / 100, nil
}

// ATR returns the latest average true range over the given period.
func ATR(highs, lows, closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period+1); err != nil {
		return 0, err
	}

	if len(highs) != len(closes) || len(lows) != len(closes) {
		return 0, errors.New(errors.ErrCodeInvalidParameter, "ATR requires highs, lows and closes of equal length")
	}

	series := talib.Atr(highs, lows, closes, period)

	return series[len(series)-1], nil
}

// BollingerBands returns the latest upper, middle and lower Bollinger Band
// values for the given period and standard deviation multiplier.
func BollingerBands(closes []float64, period int, stdDev float64) (upper, middle, lower float64, err error) {
	if err := checkLen(closes, period); err != nil {
		return 0, 0, 0, err
	}

	upperSeries, middleSeries, lowerSeries := talib.BBands(closes, period, stdDev, stdDev, talib.SMA)
	last := len(closes) - 1

	return upperSeries[last], middleSeries[last], lowerSeries[last], nil
}

// ZScore returns how many standard deviations the latest close sits away from
// the rolling mean over the given period.
func ZScore(closes []float64, period int) (float64, error) {
	if err := checkLen(closes, period); err != nil {
		return 0, err
	}

	window := closes[len(closes)-period:]

	mean := 0.0
	for _, v := range window {
		mean += v
	}

	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}

	variance /= float64(period)
	if variance == 0 {
		return 0, nil
	}

	std := math.Sqrt(variance)

	return (closes[len(closes)-1] - mean) / std, nil
}

func checkLen(series []float64, required int) error {
	if len(series) < required {
		return errors.NewInsufficientDataErrorf(required, len(series), "",
			"need %d data points, have %d", required, len(series))
	}

	return nil
}
