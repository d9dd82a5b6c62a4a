package strategy

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/internal/indicator"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// SMACrossoverName is the registry name of the moving average crossover strategy.
const SMACrossoverName = "sma_crossover"

var validate = validator.New()

// SMACrossoverConfig holds the moving average crossover parameters.
type SMACrossoverConfig struct {
	// FastPeriod is the lookback of the fast moving average.
	FastPeriod int `yaml:"fast_period" validate:"gt=0"`
	// SlowPeriod is the lookback of the slow moving average. It must exceed
	// FastPeriod.
	SlowPeriod int `yaml:"slow_period" validate:"gt=0,gtfield=FastPeriod"`
	// UseEMA selects exponential instead of simple averaging.
	UseEMA bool `yaml:"use_ema"`
}

// DefaultSMACrossoverConfig returns the standard 10/30 crossover parameters.
func DefaultSMACrossoverConfig() SMACrossoverConfig {
	return SMACrossoverConfig{
		FastPeriod: 10,
		SlowPeriod: 30,
		UseEMA:     false,
	}
}

// SMACrossover emits a buy when the fast average crosses above the slow
// average and a sell when it crosses below. Signal strength scales with the
// spread between the averages relative to price.
type SMACrossover struct {
	config SMACrossoverConfig
}

// NewSMACrossover builds the strategy from explicit parameters.
func NewSMACrossover(config SMACrossoverConfig) *SMACrossover {
	return &SMACrossover{config: config}
}

// NewSMACrossoverFromConfig builds the strategy from a YAML document, filling
// unset fields with defaults.
func NewSMACrossoverFromConfig(config string) (Strategy, error) {
	cfg := DefaultSMACrossoverConfig()
	if config != "" {
		if err := yaml.Unmarshal([]byte(config), &cfg); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse sma_crossover config", err)
		}
	}

	return NewSMACrossover(cfg), nil
}

// Name implements Strategy.
func (s *SMACrossover) Name() string {
	return SMACrossoverName
}

// Validate implements Strategy.
func (s *SMACrossover) Validate() error {
	if err := validate.Struct(s.config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid sma_crossover parameters", err)
	}

	return nil
}

// Execute implements Strategy.
func (s *SMACrossover) Execute(history []types.Bar, positions map[string]float64) ([]types.Signal, error) {
	if len(history) < s.config.SlowPeriod+1 {
		return nil, errors.NewInsufficientDataErrorf(s.config.SlowPeriod+1, len(history), symbolOf(history),
			"sma_crossover needs %d bars, have %d", s.config.SlowPeriod+1, len(history))
	}

	closes := types.Closes(history)
	symbol := symbolOf(history)
	price := closes[len(closes)-1]

	fast, slow, err := s.averages(closes)
	if err != nil {
		return nil, err
	}

	prevFast, prevSlow, err := s.averages(closes[:len(closes)-1])
	if err != nil {
		return nil, err
	}

	crossedUp := prevFast <= prevSlow && fast > slow
	crossedDown := prevFast >= prevSlow && fast < slow

	if !crossedUp && !crossedDown {
		return nil, nil
	}

	strength := math.Min(1, math.Abs(fast-slow)/price*10)

	signal := types.Signal{
		StrategyID: SMACrossoverName,
		Symbol:     symbol,
		Strength:   strength,
		Time:       history[len(history)-1].Time,
		Metadata: map[string]any{
			"fast":  fast,
			"slow":  slow,
			"price": price,
		},
	}

	switch {
	case crossedUp:
		signal.Type = types.SignalTypeBuy
		signal.Reason = fmt.Sprintf("fast average %.2f crossed above slow average %.2f", fast, slow)
	case crossedDown && positions[symbol] > 0:
		signal.Type = types.SignalTypeSell
		signal.Reason = fmt.Sprintf("fast average %.2f crossed below slow average %.2f", fast, slow)
	default:
		// Bearish cross with no position to unwind.
		return nil, nil
	}

	return []types.Signal{signal}, nil
}

func (s *SMACrossover) averages(closes []float64) (fast, slow float64, err error) {
	if s.config.UseEMA {
		fast, err = indicator.EMA(closes, s.config.FastPeriod)
		if err != nil {
			return 0, 0, err
		}

		slow, err = indicator.EMA(closes, s.config.SlowPeriod)

		return fast, slow, err
	}

	fast, err = indicator.SMA(closes, s.config.FastPeriod)
	if err != nil {
		return 0, 0, err
	}

	slow, err = indicator.SMA(closes, s.config.SlowPeriod)

	return fast, slow, err
}

func symbolOf(history []types.Bar) string {
	if len(history) == 0 {
		return ""
	}

	return history[len(history)-1].Symbol
}
