package strategy

import (
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/internal/indicator"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// MomentumName is the registry name of the momentum strategy.
const MomentumName = "momentum"

// MomentumConfig holds the momentum strategy parameters.
type MomentumConfig struct {
	// RSIPeriod is the RSI lookback.
	RSIPeriod int `yaml:"rsi_period" validate:"gt=0"`
	// RSIOversold and RSIOverbought are the RSI band edges.
	RSIOversold   float64 `yaml:"rsi_oversold" validate:"gt=0,lt=100"`
	RSIOverbought float64 `yaml:"rsi_overbought" validate:"gt=0,lt=100,gtfield=RSIOversold"`
	// ROCPeriod is the rate of change lookback.
	ROCPeriod int `yaml:"roc_period" validate:"gt=0"`
	// ROCThreshold is the minimum absolute rate of change, as a fraction, that
	// counts as momentum.
	ROCThreshold float64 `yaml:"roc_threshold" validate:"gt=0"`
	// VolumePeriod is the lookback of the average volume baseline.
	VolumePeriod int `yaml:"volume_period" validate:"gt=0"`
	// VolumeFactor is the multiple of average volume that counts as a surge.
	VolumeFactor float64 `yaml:"volume_factor" validate:"gt=1"`
}

// DefaultMomentumConfig returns the standard momentum parameters.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		ROCPeriod:     10,
		ROCThreshold:  0.05,
		VolumePeriod:  20,
		VolumeFactor:  1.5,
	}
}

// Momentum scores directional evidence from rate of change, RSI extremes and
// volume surges. Each piece of evidence contributes a fixed weight and the
// combined score becomes the signal strength.
type Momentum struct {
	config MomentumConfig
}

// NewMomentum builds the strategy from explicit parameters.
func NewMomentum(config MomentumConfig) *Momentum {
	return &Momentum{config: config}
}

// NewMomentumFromConfig builds the strategy from a YAML document, filling
// unset fields with defaults.
func NewMomentumFromConfig(config string) (Strategy, error) {
	cfg := DefaultMomentumConfig()
	if config != "" {
		if err := yaml.Unmarshal([]byte(config), &cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse momentum config", err)
		}
	}

	return NewMomentum(cfg), nil
}

// Name implements Strategy.
func (s *Momentum) Name() string {
	return MomentumName
}

// Validate implements Strategy.
func (s *Momentum) Validate() error {
	if err := validate.Struct(s.config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid momentum parameters", err)
	}

	return nil
}

// Execute implements Strategy.
func (s *Momentum) Execute(history []types.Bar, positions map[string]float64) ([]types.Signal, error) {
	required := s.minBars()
	if len(history) < required {
		return nil, errors.NewInsufficientDataErrorf(required, len(history), symbolOf(history),
			"momentum needs %d bars, have %d", required, len(history))
	}

	closes := types.Closes(history)
	volumes := types.Volumes(history)
	symbol := symbolOf(history)

	roc, err := indicator.ROC(closes, s.config.ROCPeriod)
	if err != nil {
		return nil, err
	}

	rsi, err := indicator.RSI(closes, s.config.RSIPeriod)
	if err != nil {
		return nil, err
	}

	avgVolume, err := indicator.SMA(volumes, s.config.VolumePeriod)
	if err != nil {
		return nil, err
	}

	volumeSurge := avgVolume > 0 && volumes[len(volumes)-1] > s.config.VolumeFactor*avgVolume

	var buyScore, sellScore float64

	var buyReasons, sellReasons []string

	switch {
	case roc > s.config.ROCThreshold:
		buyScore += 0.3

		buyReasons = append(buyReasons, fmt.Sprintf("rate of change %.2f%% above threshold", roc*100))
	case roc < -s.config.ROCThreshold:
		sellScore += 0.3

		sellReasons = append(sellReasons, fmt.Sprintf("rate of change %.2f%% below threshold", roc*100))
	}

	switch {
	case rsi < s.config.RSIOversold:
		buyScore += 0.3

		buyReasons = append(buyReasons, fmt.Sprintf("RSI %.1f oversold", rsi))
	case rsi > s.config.RSIOverbought:
		sellScore += 0.3

		sellReasons = append(sellReasons, fmt.Sprintf("RSI %.1f overbought", rsi))
	}

	if volumeSurge {
		// Volume confirms whichever direction price momentum points.
		if roc >= 0 {
			buyScore += 0.2

			buyReasons = append(buyReasons, "volume surge confirms advance")
		} else {
			sellScore += 0.2

			sellReasons = append(sellReasons, "volume surge confirms decline")
		}
	}

	metadata := map[string]any{
		"roc":          roc,
		"rsi":          rsi,
		"volume_surge": volumeSurge,
	}

	barTime := history[len(history)-1].Time

	if buyScore >= 0.5 {
		return []types.Signal{{
			StrategyID: MomentumName,
			Symbol:     symbol,
			Type:       types.SignalTypeBuy,
			Strength:   math.Min(1, buyScore),
			Reason:     strings.Join(buyReasons, "; "),
			Metadata:   metadata,
			Time:       barTime,
		}}, nil
	}

	if sellScore >= 0.4 && positions[symbol] > 0 {
		return []types.Signal{{
			StrategyID: MomentumName,
			Symbol:     symbol,
			Type:       types.SignalTypeSell,
			Strength:   math.Min(1, sellScore),
			Reason:     strings.Join(sellReasons, "; "),
			Metadata:   metadata,
			Time:       barTime,
		}}, nil
	}

	return nil, nil
}

func (s *Momentum) minBars() int {
	required := s.config.RSIPeriod + 1
	if s.config.ROCPeriod+1 > required {
		required = s.config.ROCPeriod + 1
	}

	if s.config.VolumePeriod > required {
		required = s.config.VolumePeriod
	}

	return required
}
