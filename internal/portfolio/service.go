package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/risk"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// Order is the flattened signal record handed to the execution sink.
type Order struct {
	Symbol   string
	Side     types.SignalType
	Quantity float64
	Reason   string
	Metadata map[string]any
}

// MarketDataSource supplies current prices and bar history per cycle.
type MarketDataSource interface {
	// LatestPrices returns the most recent price per symbol as of now.
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	// History returns up to the given number of most recent bars for a
	// symbol, oldest first.
	History(ctx context.Context, symbol string, bars int) ([]types.Bar, error)
}

// ExecutionSink accepts orders for execution. Submission is fire and forget;
// the portfolio never blocks on fill confirmation.
type ExecutionSink interface {
	Submit(ctx context.Context, order Order) error
}

// ScoreSource supplies a performance score in [0, 1] per strategy for
// rebalancing. The portfolio treats the score as opaque.
type ScoreSource interface {
	PerformanceScore(ctx context.Context, strategyID string) (float64, error)
}

// ServiceConfig holds the cadences of the periodic portfolio tasks.
type ServiceConfig struct {
	// Symbols is the tradable universe.
	Symbols []string `yaml:"symbols" validate:"min=1"`
	// SignalInterval is the cadence of the signal-processing cycle.
	SignalInterval time.Duration `yaml:"signal_interval" validate:"gt=0"`
	// RebalanceCheckInterval is how often the rebalance condition is checked.
	RebalanceCheckInterval time.Duration `yaml:"rebalance_check_interval" validate:"gt=0"`
	// RebalancePeriod is the minimum time between two rebalances.
	RebalancePeriod time.Duration `yaml:"rebalance_period" validate:"gt=0"`
	// MonitorInterval is the cadence of the risk monitor.
	MonitorInterval time.Duration `yaml:"monitor_interval" validate:"gt=0"`
	// HistoryBars is how many bars of history each strategy receives.
	HistoryBars int `yaml:"history_bars" validate:"gt=0"`
	// InitialAccountValue seeds the account value until execution feedback
	// arrives.
	InitialAccountValue float64 `yaml:"initial_account_value" validate:"gt=0"`
}

// DefaultServiceConfig returns the standard cadences: signals every minute,
// rebalance checked hourly with a seven day period, risk monitored every five
// minutes.
func DefaultServiceConfig(symbols ...string) ServiceConfig {
	return ServiceConfig{
		Symbols:                symbols,
		SignalInterval:         time.Minute,
		RebalanceCheckInterval: time.Hour,
		RebalancePeriod:        7 * 24 * time.Hour,
		MonitorInterval:        5 * time.Minute,
		HistoryBars:            100,
		InitialAccountValue:    100000,
	}
}

// Status is a point-in-time view of the portfolio for operators and APIs.
type Status struct {
	Strategies   []AllocationView   `yaml:"strategies"`
	Positions    map[string]float64 `yaml:"positions"`
	AccountValue float64            `yaml:"account_value"`
	RiskMetrics  risk.Metrics       `yaml:"risk_metrics"`
}

// Service runs the periodic portfolio tasks: the signal-processing cycle, the
// rebalance check and the risk monitor. All shared state is serialized behind
// the service mutex and the collaborators' own locks.
type Service struct {
	config      ServiceConfig
	log         *logger.Logger
	allocator   *Allocator
	riskManager *risk.Manager
	marketData  MarketDataSource
	sink        ExecutionSink
	scores      ScoreSource

	cron *cron.Cron

	mu            sync.Mutex
	positions     map[string]float64
	prices        map[string]float64
	accountValue  float64
	lastRebalance time.Time
	lastMetrics   risk.Metrics
}

// NewService wires the portfolio service. The market data source, execution
// sink and score source are external collaborators.
func NewService(
	config ServiceConfig,
	allocator *Allocator,
	riskManager *risk.Manager,
	marketData MarketDataSource,
	sink ExecutionSink,
	scores ScoreSource,
	log *logger.Logger,
) *Service {
	return &Service{
		config:        config,
		log:           log,
		allocator:     allocator,
		riskManager:   riskManager,
		marketData:    marketData,
		sink:          sink,
		scores:        scores,
		positions:     make(map[string]float64),
		prices:        make(map[string]float64),
		accountValue:  config.InitialAccountValue,
		lastRebalance: time.Now().UTC(),
	}
}

// Start schedules the periodic tasks. It returns immediately; use Stop for a
// clean shutdown.
func (s *Service) Start(ctx context.Context) error {
	if s.cron != nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "portfolio service already started")
	}

	s.cron = cron.New()

	schedules := []struct {
		interval time.Duration
		run      func(context.Context)
	}{
		{s.config.SignalInterval, s.runSignalCycle},
		{s.config.RebalanceCheckInterval, s.runRebalanceCheck},
		{s.config.MonitorInterval, s.runMonitor},
	}

	for _, schedule := range schedules {
		run := schedule.run

		_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", schedule.interval), func() {
			run(ctx)
		})
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to schedule portfolio task", err)
		}
	}

	s.cron.Start()
	s.log.Info("portfolio service started",
		zap.Strings("symbols", s.config.Symbols),
		zap.Duration("signal_interval", s.config.SignalInterval))

	return nil
}

// Stop halts the periodic tasks and waits for the current cycle to complete.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("portfolio service stopped")
}

// UpdateAccount records execution-engine feedback: the account value and the
// current positions.
func (s *Service) UpdateAccount(accountValue float64, positions map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accountValue = accountValue
	s.positions = make(map[string]float64, len(positions))

	for symbol, quantity := range positions {
		s.positions[symbol] = quantity
	}
}

// Status returns a snapshot of the portfolio state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]float64, len(s.positions))
	for symbol, quantity := range s.positions {
		positions[symbol] = quantity
	}

	return Status{
		Strategies:   s.allocator.Snapshot(),
		Positions:    positions,
		AccountValue: s.accountValue,
		RiskMetrics:  s.lastMetrics,
	}
}

// runSignalCycle is one pass of the signal pipeline: fetch prices, update
// risk history, collect signals from the enabled strategies, risk-filter,
// combine, size and submit. A failed price fetch turns the whole cycle into a
// no-op; it is retried on the next tick.
func (s *Service) runSignalCycle(ctx context.Context) {
	prices, err := s.marketData.LatestPrices(ctx, s.config.Symbols)
	if err != nil {
		s.log.Warn("market data fetch failed, skipping cycle", zap.Error(err))

		return
	}

	s.mu.Lock()

	for symbol, price := range prices {
		s.prices[symbol] = price
	}

	accountValue := s.accountValue
	positions := make(map[string]float64, len(s.positions))

	for symbol, quantity := range s.positions {
		positions[symbol] = quantity
	}

	currentPrices := make(map[string]float64, len(s.prices))
	for symbol, price := range s.prices {
		currentPrices[symbol] = price
	}

	s.mu.Unlock()

	// The risk filter below must see a snapshot that includes this cycle's
	// price update.
	s.riskManager.UpdateHistory(accountValue, positions, currentPrices, time.Now().UTC())

	allSignals := s.collectSignals(ctx, positions)

	accepted, rejected := s.riskManager.FilterSignals(allSignals, positions, currentPrices, accountValue)
	for _, reason := range rejected {
		s.log.Warn("signal rejected", zap.String("reason", reason))
	}

	for _, signal := range s.allocator.Combine(accepted) {
		s.submitSignal(ctx, signal, accountValue, currentPrices, positions)
	}
}

// collectSignals invokes every enabled strategy over every symbol and tags
// each signal with the strategy's current allocation. A failing strategy or
// symbol is skipped; it never fails the cycle.
func (s *Service) collectSignals(ctx context.Context, positions map[string]float64) []types.Signal {
	var all []types.Signal

	for _, allocation := range s.allocator.EnabledStrategies() {
		var produced []types.Signal

		for _, symbol := range s.config.Symbols {
			history, err := s.marketData.History(ctx, symbol, s.config.HistoryBars)
			if err != nil {
				s.log.Debug("history fetch failed",
					zap.String("symbol", symbol), zap.Error(err))

				continue
			}

			signals, err := allocation.Strategy.Execute(history, positions)
			if err != nil {
				if errors.IsInsufficientDataError(err) {
					s.log.Debug("insufficient history for strategy",
						zap.String("strategy", allocation.StrategyID),
						zap.String("symbol", symbol))
				} else {
					s.log.Error("strategy execution failed",
						zap.String("strategy", allocation.StrategyID),
						zap.String("symbol", symbol), zap.Error(err))
				}

				continue
			}

			for _, signal := range signals {
				produced = append(produced, signal.WithMetadata(types.MetadataKeyAllocation, allocation.Allocation))
			}
		}

		if len(produced) > 0 {
			s.allocator.RecordSignals(allocation.StrategyID, produced)

			all = append(all, produced...)
		}
	}

	return all
}

// submitSignal sizes a buy signal through the risk manager and hands the
// resulting order to the execution sink.
func (s *Service) submitSignal(ctx context.Context, signal types.Signal, accountValue float64, prices, positions map[string]float64) {
	quantity := signal.Quantity.TakeOr(0)

	if signal.Type == types.SignalTypeBuy {
		suggestions := s.riskManager.SuggestPositionSizes([]types.Signal{signal}, accountValue, prices, positions)
		if suggested, ok := suggestions[signal.Symbol]; ok {
			quantity = suggested
		}
	}

	if quantity <= 0 && signal.Type == types.SignalTypeBuy {
		s.log.Debug("skipping zero-size order", zap.String("symbol", signal.Symbol))

		return
	}

	order := Order{
		Symbol:   signal.Symbol,
		Side:     signal.Type,
		Quantity: quantity,
		Reason:   signal.Reason,
		Metadata: signal.Metadata,
	}

	if err := s.sink.Submit(ctx, order); err != nil {
		s.log.Error("order submission failed",
			zap.String("symbol", signal.Symbol), zap.Error(err))

		return
	}

	s.log.Info("submitted order",
		zap.String("symbol", signal.Symbol),
		zap.String("side", string(signal.Type)),
		zap.Float64("quantity", quantity))
}

// runRebalanceCheck rebalances the allocations once the configured period has
// elapsed since the last rebalance.
func (s *Service) runRebalanceCheck(ctx context.Context) {
	s.mu.Lock()
	due := time.Since(s.lastRebalance) >= s.config.RebalancePeriod
	s.mu.Unlock()

	if !due {
		return
	}

	scores := make(map[string]float64)

	for _, view := range s.allocator.Snapshot() {
		score, err := s.scores.PerformanceScore(ctx, view.StrategyID)
		if err != nil {
			s.log.Warn("performance score unavailable, keeping previous",
				zap.String("strategy", view.StrategyID), zap.Error(err))

			continue
		}

		scores[view.StrategyID] = score
	}

	s.allocator.Rebalance(scores)

	s.mu.Lock()
	s.lastRebalance = time.Now().UTC()
	s.mu.Unlock()
}

// runMonitor recomputes the risk snapshot and drives the circuit breaker:
// every strategy is disabled on an extreme risk level and re-enabled in bulk
// once the level drops back to low or medium.
func (s *Service) runMonitor(_ context.Context) {
	s.mu.Lock()
	accountValue := s.accountValue
	positions := make(map[string]float64, len(s.positions))

	for symbol, quantity := range s.positions {
		positions[symbol] = quantity
	}

	prices := make(map[string]float64, len(s.prices))
	for symbol, price := range s.prices {
		prices[symbol] = price
	}
	s.mu.Unlock()

	metrics := s.riskManager.CalculateMetrics(accountValue, positions, prices, accountValue)

	s.mu.Lock()
	s.lastMetrics = metrics
	s.mu.Unlock()

	s.log.Info("portfolio risk snapshot",
		zap.String("risk_level", string(metrics.RiskLevel)),
		zap.Float64("current_drawdown", metrics.CurrentDrawdown),
		zap.Float64("var_95", metrics.VaR95))

	for _, warning := range metrics.Warnings {
		s.log.Warn("risk warning", zap.String("warning", warning))
	}

	switch metrics.RiskLevel {
	case risk.LevelExtreme:
		s.log.Error("extreme risk level, disabling all strategies")
		s.allocator.SetAllEnabled(false)
	case risk.LevelLow, risk.LevelMedium:
		s.allocator.SetAllEnabled(true)
	}
}
