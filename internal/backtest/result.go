package backtest

import (
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// Result is the immutable outcome of one backtest run.
type Result struct {
	ID             string    `yaml:"id"`
	Start          time.Time `yaml:"start"`
	End            time.Time `yaml:"end"`
	InitialCapital float64   `yaml:"initial_capital"`
	FinalCapital   float64   `yaml:"final_capital"`

	Trades      []types.Trade       `yaml:"trades"`
	EquityCurve []types.EquityPoint `yaml:"equity_curve"`
	Metrics     Metrics             `yaml:"metrics"`
	Params      Params              `yaml:"params"`
}

func newResult(params Params, start, end time.Time, state *runState) *Result {
	finalCapital := params.InitialCapital
	if len(state.equity) > 0 {
		finalCapital = state.equity[len(state.equity)-1].TotalEquity
	}

	return &Result{
		ID:             uuid.NewString(),
		Start:          start,
		End:            end,
		InitialCapital: params.InitialCapital,
		FinalCapital:   finalCapital,
		Trades:         state.trades,
		EquityCurve:    state.equity,
		Metrics:        ComputeMetrics(state.trades, state.equity, params.InitialCapital, start, end),
		Params:         params,
	}
}

// emptyResult is returned when no price data exists for any requested symbol:
// zero trades, capital unchanged.
func emptyResult(params Params, start, end time.Time) *Result {
	return &Result{
		ID:             uuid.NewString(),
		Start:          start,
		End:            end,
		InitialCapital: params.InitialCapital,
		FinalCapital:   params.InitialCapital,
		Metrics:        Metrics{},
		Params:         params,
	}
}

// WriteYAML saves the result to a YAML file.
func (r *Result) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to encode backtest result", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to write backtest result", err)
	}

	return nil
}
