package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/execution"
	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/portfolio"
	"github.com/tidemark-trading/tidemark/internal/risk"
	"github.com/tidemark-trading/tidemark/internal/strategy"
	"github.com/tidemark-trading/tidemark/pkg/marketdata"
)

// neutralScores is the stand-in score source when no analytics backend is
// attached: every strategy scores 0.5, so rebalancing drifts toward equal
// weights.
type neutralScores struct{}

func (neutralScores) PerformanceScore(context.Context, string) (float64, error) {
	return 0.5, nil
}

var _ portfolio.ScoreSource = neutralScores{}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	zapLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer zapLogger.Sync()

	source, err := marketdata.NewDuckDBSource(cmd.String("db"), zapLogger)
	if err != nil {
		return err
	}
	defer source.Close()

	if parquetPath := cmd.String("parquet"); parquetPath != "" {
		if err := source.Initialize(parquetPath); err != nil {
			return err
		}
	}

	registry := strategy.NewRegistry()

	names := cmd.StringSlice("strategy")
	if len(names) == 0 {
		names = registry.Names()
	}

	allocator := portfolio.NewAllocator(portfolio.DefaultAllocatorConfig(), zapLogger)

	for _, name := range names {
		s, err := registry.Create(name, "")
		if err != nil {
			return err
		}

		if err := allocator.AddStrategy(s, 1/float64(len(names))); err != nil {
			return err
		}
	}

	statePath := cmd.String("state")
	if statePath != "" {
		if _, err := os.Stat(statePath); err == nil {
			if err := allocator.LoadState(statePath); err != nil {
				return err
			}

			zapLogger.Info("portfolio state restored", zap.String("path", statePath))
		}
	}

	riskManager := risk.NewManager(risk.DefaultLimits(), zapLogger)
	config := portfolio.DefaultServiceConfig(cmd.StringSlice("symbols")...)

	service := portfolio.NewService(
		config,
		allocator,
		riskManager,
		source,
		execution.NewLogSink(zapLogger),
		neutralScores{},
		zapLogger,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	service.Stop()

	if statePath != "" {
		if err := allocator.SaveState(statePath); err != nil {
			return err
		}

		zapLogger.Info("portfolio state saved", zap.String("path", statePath))
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "portfolio",
		Usage: "Run the multi-strategy portfolio service",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "symbols",
				Aliases:  []string{"S"},
				Usage:    "Symbols to trade",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "strategy",
				Usage: "Strategy names to run (all built-ins when omitted)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the DuckDB database (use :memory: with --parquet)",
				Value:   ":memory:",
			},
			&cli.StringFlag{
				Name:  "parquet",
				Usage: "Parquet file to expose as the bars table",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Path to the allocation state file, loaded on start and saved on shutdown",
			},
		},
		Action: serveAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
