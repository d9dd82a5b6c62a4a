// Package backtest replays strategies over historical price series with the
// same entry, exit and sizing rules as the live portfolio. One engine serves
// both the signal-driven and the momentum-driven styles; the rule set is
// selected entirely through Params. Each run owns disjoint state, so
// independent runs may execute in parallel.
package backtest

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// StepMode selects how the replay clock advances.
type StepMode string

const (
	// StepModeInterval advances the clock by a fixed interval.
	StepModeInterval StepMode = "interval"
	// StepModeEvent advances the clock to each timestamp present in the data.
	StepModeEvent StepMode = "event"
)

// Duration wraps time.Duration with YAML support for strings like "15m".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration %q", raw)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Params is the full backtest configuration. Start from DefaultParams and
// override; zero values for the enable flags mean the feature is off.
type Params struct {
	// InitialCapital is the starting cash of the simulated account.
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" validate:"gt=0"`
	// Commission is the per-side fee as a fraction of trade value.
	Commission float64 `yaml:"commission" json:"commission" validate:"gte=0,lt=1"`
	// Slippage is the per-side price concession as a fraction.
	Slippage float64 `yaml:"slippage" json:"slippage" validate:"gte=0,lt=1"`

	// StepMode and StepInterval control the replay clock.
	StepMode     StepMode `yaml:"step_mode" json:"step_mode" validate:"oneof=interval event"`
	StepInterval Duration `yaml:"step_interval" json:"step_interval"`

	// MomentumEnabled admits entries from the trailing price delta over the
	// momentum lookback window.
	MomentumEnabled   bool     `yaml:"momentum_enabled" json:"momentum_enabled"`
	MomentumThreshold float64  `yaml:"momentum_threshold" json:"momentum_threshold" validate:"gte=0"`
	MomentumLookback  Duration `yaml:"momentum_lookback" json:"momentum_lookback"`

	// TechnicalEntries and TechnicalExits admit strategy signals as entry
	// candidates and exit triggers.
	TechnicalEntries bool `yaml:"technical_entries" json:"technical_entries"`
	TechnicalExits   bool `yaml:"technical_exits" json:"technical_exits"`
	// MinConfidence gates technical entries; MinExitConfidence gates
	// technical exits.
	MinConfidence     float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
	MinExitConfidence float64 `yaml:"min_exit_confidence" json:"min_exit_confidence" validate:"gte=0,lte=1"`

	StopLossEnabled bool    `yaml:"stop_loss_enabled" json:"stop_loss_enabled"`
	StopLossPct     float64 `yaml:"stop_loss_pct" json:"stop_loss_pct" validate:"gte=0,lt=1"`

	TakeProfitEnabled bool    `yaml:"take_profit_enabled" json:"take_profit_enabled"`
	TakeProfitPct     float64 `yaml:"take_profit_pct" json:"take_profit_pct" validate:"gte=0"`

	TrailingStopEnabled bool    `yaml:"trailing_stop_enabled" json:"trailing_stop_enabled"`
	TrailPct            float64 `yaml:"trail_pct" json:"trail_pct" validate:"gte=0,lt=1"`
	// TrailingArmThreshold is the unrealized profit fraction at which the
	// trailing stop arms.
	TrailingArmThreshold float64 `yaml:"trailing_arm_threshold" json:"trailing_arm_threshold" validate:"gte=0"`

	// PositionSizePct sizes entries as a fraction of current portfolio value.
	// DynamicSizing replaces it with the risk manager's risk-adjusted sizing.
	PositionSizePct float64 `yaml:"position_size_pct" json:"position_size_pct" validate:"gt=0,lte=1"`
	DynamicSizing   bool    `yaml:"dynamic_sizing" json:"dynamic_sizing"`

	// MaxPositions caps the number of simultaneously open positions.
	MaxPositions int `yaml:"max_positions" json:"max_positions" validate:"gt=0"`
	// HistoryBars is how many bars of history strategies receive per step.
	HistoryBars int `yaml:"history_bars" json:"history_bars" validate:"gt=0"`
}

// DefaultParams returns the standard aggressive replay configuration:
// 15-minute steps, 2% stop loss, 5% take profit, 2% trailing stop arming at
// 1% profit, 2% position sizing and at most 20 open positions.
func DefaultParams() Params {
	return Params{
		InitialCapital:       100000,
		Commission:           0.001,
		Slippage:             0.0005,
		StepMode:             StepModeInterval,
		StepInterval:         Duration(15 * time.Minute),
		MomentumEnabled:      true,
		MomentumThreshold:    0.001,
		MomentumLookback:     Duration(time.Hour),
		TechnicalEntries:     true,
		TechnicalExits:       true,
		MinConfidence:        0.5,
		MinExitConfidence:    0.6,
		StopLossEnabled:      true,
		StopLossPct:          0.02,
		TakeProfitEnabled:    true,
		TakeProfitPct:        0.05,
		TrailingStopEnabled:  true,
		TrailPct:             0.02,
		TrailingArmThreshold: 0.01,
		PositionSizePct:      0.02,
		DynamicSizing:        false,
		MaxPositions:         20,
		HistoryBars:          100,
	}
}

var validate = validator.New()

// Validate checks the parameter combination.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid backtest parameters", err)
	}

	if p.StepMode == StepModeInterval && p.StepInterval.Std() <= 0 {
		return errors.New(errors.ErrCodeBacktestConfigError, "step_interval must be positive in interval mode")
	}

	return nil
}

// GenerateSchema builds the JSON schema for the parameter file.
func (p Params) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{}

	return reflector.Reflect(&p)
}

// GenerateSchemaJSON renders the parameter schema as indented JSON.
func (p Params) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(p.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to encode parameter schema", err)
	}

	return string(schemaBytes), nil
}

// LoadParams reads a YAML parameter file on top of the defaults.
func LoadParams(data []byte) (Params, error) {
	params := DefaultParams()

	if err := yaml.Unmarshal(data, &params); err != nil {
		return Params{}, errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse backtest parameters", err)
	}

	if err := params.Validate(); err != nil {
		return Params{}, err
	}

	return params, nil
}
