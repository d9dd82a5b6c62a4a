package strategy

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/internal/indicator"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// MeanReversionName is the registry name of the mean reversion strategy.
const MeanReversionName = "mean_reversion"

// MeanReversionConfig holds the mean reversion parameters.
type MeanReversionConfig struct {
	// Period is the Bollinger Band and z-score lookback.
	Period int `yaml:"period" validate:"gt=1"`
	// StdDev is the band width in standard deviations.
	StdDev float64 `yaml:"std_dev" validate:"gt=0"`
	// EntryZScore is the z-score magnitude that triggers an entry.
	EntryZScore float64 `yaml:"entry_z_score" validate:"gt=0"`
	// ExitZScore is the z-score magnitude below which a held position is
	// considered reverted and closed.
	ExitZScore float64 `yaml:"exit_z_score" validate:"gte=0,ltfield=EntryZScore"`
	// RSIPeriod is the confirmation RSI lookback.
	RSIPeriod int `yaml:"rsi_period" validate:"gt=0"`
	// RSIOversold is the RSI level that confirms an oversold entry.
	RSIOversold float64 `yaml:"rsi_oversold" validate:"gt=0,lt=100"`
}

// DefaultMeanReversionConfig returns the standard mean reversion parameters.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Period:      20,
		StdDev:      2.0,
		EntryZScore: 2.0,
		ExitZScore:  0.5,
		RSIPeriod:   14,
		RSIOversold: 35,
	}
}

// MeanReversion buys when price stretches far below its rolling mean with an
// oversold RSI confirmation, and exits once price reverts toward the mean.
type MeanReversion struct {
	config MeanReversionConfig
}

// NewMeanReversion builds the strategy from explicit parameters.
func NewMeanReversion(config MeanReversionConfig) *MeanReversion {
	return &MeanReversion{config: config}
}

// NewMeanReversionFromConfig builds the strategy from a YAML document,
// filling unset fields with defaults.
func NewMeanReversionFromConfig(config string) (Strategy, error) {
	cfg := DefaultMeanReversionConfig()
	if config != "" {
		if err := yaml.Unmarshal([]byte(config), &cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse mean_reversion config", err)
		}
	}

	return NewMeanReversion(cfg), nil
}

// Name implements Strategy.
func (s *MeanReversion) Name() string {
	return MeanReversionName
}

// Validate implements Strategy.
func (s *MeanReversion) Validate() error {
	if err := validate.Struct(s.config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid mean_reversion parameters", err)
	}

	return nil
}

// Execute implements Strategy.
func (s *MeanReversion) Execute(history []types.Bar, positions map[string]float64) ([]types.Signal, error) {
	required := s.config.Period
	if s.config.RSIPeriod+1 > required {
		required = s.config.RSIPeriod + 1
	}

	if len(history) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(history), symbolOf(history),
			"mean_reversion needs %d bars, have %d", required, len(history))
	}

	closes := types.Closes(history)
	symbol := symbolOf(history)
	price := closes[len(closes)-1]

	zScore, err := indicator.ZScore(closes, s.config.Period)
	if err != nil {
		return nil, err
	}

	_, middle, lower, err := indicator.BollingerBands(closes, s.config.Period, s.config.StdDev)
	if err != nil {
		return nil, err
	}

	rsi, err := indicator.RSI(closes, s.config.RSIPeriod)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"z_score":    zScore,
		"rsi":        rsi,
		"band_lower": lower,
		"band_mid":   middle,
	}

	barTime := history[len(history)-1].Time
	held := positions[symbol] > 0

	if !held && zScore <= -s.config.EntryZScore && rsi < s.config.RSIOversold {
		// Strength grows with how far beyond the entry band the price sits.
		strength := math.Min(1, math.Abs(zScore)/(s.config.EntryZScore*2))

		return []types.Signal{{
			StrategyID: MeanReversionName,
			Symbol:     symbol,
			Type:       types.SignalTypeBuy,
			Strength:   strength,
			Reason:     fmt.Sprintf("price %.2f stretched %.2f standard deviations below mean, RSI %.1f", price, -zScore, rsi),
			Metadata:   metadata,
			Time:       barTime,
		}}, nil
	}

	if held && math.Abs(zScore) <= s.config.ExitZScore {
		return []types.Signal{{
			StrategyID: MeanReversionName,
			Symbol:     symbol,
			Type:       types.SignalTypeSell,
			Strength:   0.6,
			Reason:     fmt.Sprintf("price %.2f reverted to mean, z-score %.2f", price, zScore),
			Metadata:   metadata,
			Time:       barTime,
		}}, nil
	}

	return nil, nil
}
