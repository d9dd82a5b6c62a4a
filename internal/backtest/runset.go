package backtest

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/strategy"
)

// Run describes one backtest in a sweep: its parameters, strategy set,
// symbols and window.
type Run struct {
	Name       string
	Params     Params
	Strategies []strategy.Strategy
	Symbols    []string
	Start      time.Time
	End        time.Time
}

// RunSet executes several independent backtests in parallel. Each run owns
// disjoint state, so the only shared input is the historical source, which
// must be safe for concurrent reads. Results are returned in input order; the
// first error cancels the remaining runs.
func RunSet(ctx context.Context, source HistoricalSource, runs []Run, parallelism int, log *logger.Logger) ([]*Result, error) {
	results := make([]*Result, len(runs))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)

	for i, run := range runs {
		group.Go(func() error {
			engine, err := NewEngine(run.Params, run.Strategies, log.Named(run.Name))
			if err != nil {
				return err
			}

			result, err := engine.Run(ctx, source, run.Symbols, run.Start, run.End)
			if err != nil {
				return err
			}

			results[i] = result

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
