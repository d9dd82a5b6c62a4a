package types

import "time"

// Bar is a single OHLCV observation for one symbol.
type Bar struct {
	Symbol string    `yaml:"symbol"`
	Time   time.Time `yaml:"time"`
	Open   float64   `yaml:"open"`
	High   float64   `yaml:"high"`
	Low    float64   `yaml:"low"`
	Close  float64   `yaml:"close"`
	Volume float64   `yaml:"volume"`
}

// Closes extracts the close prices of a bar series, oldest first.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}

	return out
}

// Highs extracts the high prices of a bar series, oldest first.
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}

	return out
}

// Lows extracts the low prices of a bar series, oldest first.
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}

	return out
}

// Volumes extracts the volumes of a bar series, oldest first.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}

	return out
}

// EquityPoint is one observation of the portfolio equity curve.
type EquityPoint struct {
	Time          time.Time `yaml:"time"`
	Cash          float64   `yaml:"cash"`
	PositionValue float64   `yaml:"position_value"`
	TotalEquity   float64   `yaml:"total_equity"`
}
