package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/backtest"
	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/strategy"
	"github.com/tidemark-trading/tidemark/pkg/marketdata"
)

// runAction loads the parameters and the historical data, replays the
// strategies over the requested window and writes the result file.
func runAction(ctx context.Context, cmd *cli.Command) error {
	params := backtest.DefaultParams()

	if paramsPath := cmd.String("params"); paramsPath != "" {
		data, err := os.ReadFile(paramsPath)
		if err != nil {
			return fmt.Errorf("failed to read parameter file: %w", err)
		}

		params, err = backtest.LoadParams(data)
		if err != nil {
			return err
		}
	}

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

	var strategies []strategy.Strategy

	for _, name := range cmd.StringSlice("strategy") {
		s, err := registry.Create(name, "")
		if err != nil {
			return err
		}

		strategies = append(strategies, s)
	}

	engine, err := backtest.NewEngine(params, strategies, zapLogger)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar

	engine.SetProgress(func(done, total int) {
		if bar == nil {
			bar = progressbar.Default(int64(total))
		}

		_ = bar.Set(done)
	})

	start := cmd.Timestamp("start")
	end := cmd.Timestamp("end")

	result, err := engine.Run(ctx, source, cmd.StringSlice("symbols"), start, end)
	if err != nil {
		return err
	}

	zapLogger.Info("backtest complete",
		zap.Float64("final_capital", result.FinalCapital),
		zap.Float64("total_return_pct", result.Metrics.TotalReturnPct*100),
		zap.Int("total_trades", result.Metrics.TotalTrades),
		zap.Float64("win_rate", result.Metrics.WinRate),
		zap.Float64("max_drawdown_pct", result.Metrics.MaxDrawdownPct*100))

	if outputPath := cmd.String("output"); outputPath != "" {
		if err := result.WriteYAML(outputPath); err != nil {
			return err
		}

		zapLogger.Info("result written", zap.String("path", outputPath))
	}

	return nil
}

// schemaAction writes the JSON schema of the parameter file, for editor
// integration against the YAML configs.
func schemaAction(_ context.Context, cmd *cli.Command) error {
	schemaJSON, err := backtest.DefaultParams().GenerateSchemaJSON()
	if err != nil {
		return err
	}

	if outputPath := cmd.String("output"); outputPath != "" {
		return os.WriteFile(outputPath, []byte(schemaJSON), 0o644)
	}

	fmt.Println(schemaJSON)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay trading strategies over historical data",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a backtest over a historical window",
				Flags: []cli.Flag{
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
						Name:    "params",
						Aliases: []string{"p"},
						Usage:   "Path to the YAML parameter file (defaults apply when omitted)",
					},
					&cli.StringSliceFlag{
						Name:     "symbols",
						Aliases:  []string{"S"},
						Usage:    "Symbols to trade",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "strategy",
						Usage: "Strategy names to run (repeatable)",
					},
					&cli.TimestampFlag{
						Name:     "start",
						Aliases:  []string{"s"},
						Usage:    "Start date in `YYYY-MM-DD` format",
						Required: true,
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.TimestampFlag{
						Name:    "end",
						Aliases: []string{"e"},
						Usage:   "End date in `YYYY-MM-DD` format. Defaults to today.",
						Value:   time.Now(),
						Config: cli.TimestampConfig{
							Layouts: []string{"2006-01-02"},
						},
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for the YAML result file",
					},
				},
				Action: runAction,
			},
			{
				Name:  "schema",
				Usage: "Generate the JSON schema for the parameter file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path for the schema file (stdout when omitted)",
					},
				},
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
