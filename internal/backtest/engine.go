package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/risk"
	"github.com/tidemark-trading/tidemark/internal/strategy"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// maxEntriesPerStep caps how many new positions open on a single step.
const maxEntriesPerStep = 3

// HistoricalSource supplies the full bar series between two timestamps.
type HistoricalSource interface {
	HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error)
}

// Engine replays strategies over historical data. An Engine is reusable; all
// mutable simulation state lives in the per-run state, so one Engine may run
// concurrently with itself.
type Engine struct {
	params     Params
	strategies []strategy.Strategy
	log        *logger.Logger
	progress   func(done, total int)
}

// NewEngine validates the parameters and builds an engine over the given
// strategy set. The set may be empty when only momentum entries are used.
func NewEngine(params Params, strategies []strategy.Strategy, log *logger.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		params:     params,
		strategies: strategies,
		log:        log,
	}, nil
}

// SetProgress installs a progress callback invoked after every step.
func (e *Engine) SetProgress(fn func(done, total int)) {
	e.progress = fn
}

// openPosition is a simulated position plus the entry costs needed to close
// it into a Trade.
type openPosition struct {
	*types.Position

	entryFees  float64
	strategyID string
}

// runState is the isolated state of one replay. Nothing here is shared across
// runs.
type runState struct {
	cash      float64
	positions map[string]*openPosition
	trades    []types.Trade
	equity    []types.EquityPoint

	series  map[string][]types.Bar
	cursors map[string]int

	riskManager *risk.Manager
}

// Run replays the configured rules over the given symbols and window. A run
// with no price data at all returns an empty result with capital unchanged
// rather than an error, so sweep callers can keep iterating.
func (e *Engine) Run(ctx context.Context, source HistoricalSource, symbols []string, start, end time.Time) (*Result, error) {
	state := &runState{
		cash:        e.params.InitialCapital,
		positions:   make(map[string]*openPosition),
		series:      make(map[string][]types.Bar),
		cursors:     make(map[string]int),
		riskManager: risk.NewManager(risk.DefaultLimits(), e.log),
	}

	for _, symbol := range symbols {
		bars, err := source.HistoricalBars(ctx, symbol, start, end)
		if err != nil {
			e.log.Warn("failed to load bars, skipping symbol",
				zap.String("symbol", symbol), zap.Error(err))

			continue
		}

		if len(bars) > 0 {
			state.series[symbol] = bars
			state.cursors[symbol] = -1
		}
	}

	if len(state.series) == 0 {
		e.log.Warn("no price data available, returning empty result")

		return emptyResult(e.params, start, end), nil
	}

	timeline := e.buildTimeline(state, start, end)

	for i, now := range timeline {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeBacktestCancelled, "backtest cancelled", err)
		}

		prices := state.advanceTo(now)
		if len(prices) > 0 {
			state.markPositions(prices)
			state.riskManager.UpdateHistory(state.portfolioValue(prices), state.quantities(), prices, now)

			e.checkExits(state, prices, now)

			if i == len(timeline)-1 {
				e.closeAll(state, prices, now)
			} else {
				e.checkEntries(state, prices, now)
			}

			state.recordEquity(now, prices)
		}

		if e.progress != nil {
			e.progress(i+1, len(timeline))
		}
	}

	return newResult(e.params, start, end, state), nil
}

// buildTimeline produces the replay timestamps: a fixed-interval grid, or the
// sorted union of all bar timestamps in the window.
func (e *Engine) buildTimeline(state *runState, start, end time.Time) []time.Time {
	if e.params.StepMode == StepModeInterval {
		var timeline []time.Time
		for t := start; !t.After(end); t = t.Add(e.params.StepInterval.Std()) {
			timeline = append(timeline, t)
		}

		return timeline
	}

	seen := make(map[time.Time]struct{})

	var timeline []time.Time

	for _, bars := range state.series {
		for _, bar := range bars {
			if bar.Time.Before(start) || bar.Time.After(end) {
				continue
			}

			if _, ok := seen[bar.Time]; !ok {
				seen[bar.Time] = struct{}{}

				timeline = append(timeline, bar.Time)
			}
		}
	}

	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })

	return timeline
}

// advanceTo moves every symbol cursor to the last bar at or before now and
// returns the last known price per symbol.
func (s *runState) advanceTo(now time.Time) map[string]float64 {
	prices := make(map[string]float64)

	for symbol, bars := range s.series {
		cursor := s.cursors[symbol]
		for cursor+1 < len(bars) && !bars[cursor+1].Time.After(now) {
			cursor++
		}

		s.cursors[symbol] = cursor
		if cursor >= 0 {
			prices[symbol] = bars[cursor].Close
		}
	}

	return prices
}

func (s *runState) markPositions(prices map[string]float64) {
	for symbol, position := range s.positions {
		if price, ok := prices[symbol]; ok {
			position.MarkPrice(price)
		}
	}
}

func (s *runState) quantities() map[string]float64 {
	out := make(map[string]float64, len(s.positions))
	for symbol, position := range s.positions {
		out[symbol] = position.Quantity
	}

	return out
}

func (s *runState) portfolioValue(prices map[string]float64) float64 {
	value := s.cash

	for symbol, position := range s.positions {
		price, ok := prices[symbol]
		if !ok {
			price = position.CurrentPrice
		}

		value += position.Quantity * price
	}

	return value
}

func (s *runState) recordEquity(now time.Time, prices map[string]float64) {
	total := s.portfolioValue(prices)

	s.equity = append(s.equity, types.EquityPoint{
		Time:          now,
		Cash:          s.cash,
		PositionValue: total - s.cash,
		TotalEquity:   total,
	})
}

// history returns up to maxBars bars of the symbol's series ending at the
// current cursor.
func (s *runState) history(symbol string, maxBars int) []types.Bar {
	cursor := s.cursors[symbol]
	if cursor < 0 {
		return nil
	}

	from := cursor + 1 - maxBars
	if from < 0 {
		from = 0
	}

	return s.series[symbol][from : cursor+1]
}

// checkExits evaluates the exit rules for every open position in a fixed
// priority order: stop loss, take profit, trailing stop, technical exit.
// Exactly one reason is recorded per close.
func (e *Engine) checkExits(state *runState, prices map[string]float64, now time.Time) {
	symbols := make([]string, 0, len(state.positions))
	for symbol := range state.positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		position := state.positions[symbol]

		price, ok := prices[symbol]
		if !ok {
			continue
		}

		if reason, triggered := e.exitReason(state, position, price); triggered {
			e.closePosition(state, symbol, price, now, reason)
		}
	}
}

func (e *Engine) exitReason(state *runState, position *openPosition, price float64) (string, bool) {
	if e.params.StopLossEnabled && position.UnrealizedPnLPct <= -e.params.StopLossPct {
		return fmt.Sprintf("stop loss: %.2f%%", position.UnrealizedPnLPct*100), true
	}

	if e.params.TakeProfitEnabled && position.UnrealizedPnLPct >= e.params.TakeProfitPct {
		return fmt.Sprintf("take profit: %.2f%%", position.UnrealizedPnLPct*100), true
	}

	if e.params.TrailingStopEnabled {
		if position.TrailingStop.IsNone() {
			if position.UnrealizedPnLPct > e.params.TrailingArmThreshold {
				position.TrailingStop = optional.Some(price * (1 - e.params.TrailPct))
			}
		} else {
			stop := position.TrailingStop.Unwrap()

			// The stop only ever ratchets upward.
			if next := price * (1 - e.params.TrailPct); next > stop {
				stop = next
				position.TrailingStop = optional.Some(stop)
			}

			if price <= stop {
				return fmt.Sprintf("trailing stop: %.2f <= %.2f", price, stop), true
			}
		}
	}

	if e.params.TechnicalExits {
		if reason, triggered := e.technicalExit(state, position.Symbol); triggered {
			return reason, true
		}
	}

	return "", false
}

func (e *Engine) technicalExit(state *runState, symbol string) (string, bool) {
	history := state.history(symbol, e.params.HistoryBars)
	if len(history) == 0 {
		return "", false
	}

	quantities := state.quantities()

	for _, s := range e.strategies {
		signals, err := s.Execute(history, quantities)
		if err != nil {
			continue
		}

		for _, signal := range signals {
			if signal.Symbol == symbol && signal.Type == types.SignalTypeSell && signal.Strength >= e.params.MinExitConfidence {
				return fmt.Sprintf("technical exit: %s", signal.Reason), true
			}
		}
	}

	return "", false
}

// entryCandidate is a would-be entry with its ranking confidence. source is
// the strategy name (or "momentum") that proposed it; reason is the
// human-readable entry rationale.
type entryCandidate struct {
	symbol     string
	source     string
	reason     string
	confidence float64
}

// checkEntries collects momentum and technical entry candidates, ranks them
// by confidence and opens up to maxEntriesPerStep new positions, subject to
// the position cap and available cash.
func (e *Engine) checkEntries(state *runState, prices map[string]float64, now time.Time) {
	if len(state.positions) >= e.params.MaxPositions {
		return
	}

	var candidates []entryCandidate

	symbols := make([]string, 0, len(prices))
	for symbol := range prices {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		if _, held := state.positions[symbol]; held {
			continue
		}

		if e.params.MomentumEnabled {
			if momentum, ok := state.momentum(symbol, now, e.params.MomentumLookback.Std()); ok && momentum > e.params.MomentumThreshold {
				candidates = append(candidates, entryCandidate{
					symbol:     symbol,
					source:     "momentum",
					reason:     fmt.Sprintf("momentum: %+.2f%%", momentum*100),
					confidence: momentum,
				})
			}
		}

		if e.params.TechnicalEntries {
			candidates = append(candidates, e.technicalCandidates(state, symbol)...)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}

		return candidates[i].symbol < candidates[j].symbol
	})

	opened := 0

	for _, candidate := range candidates {
		if opened >= maxEntriesPerStep || len(state.positions) >= e.params.MaxPositions {
			break
		}

		if _, held := state.positions[candidate.symbol]; held {
			continue
		}

		if e.openPosition(state, candidate, prices, now) {
			opened++
		}
	}
}

func (e *Engine) technicalCandidates(state *runState, symbol string) []entryCandidate {
	history := state.history(symbol, e.params.HistoryBars)
	if len(history) == 0 {
		return nil
	}

	quantities := state.quantities()

	var out []entryCandidate

	for _, s := range e.strategies {
		signals, err := s.Execute(history, quantities)
		if err != nil {
			if !errors.IsInsufficientDataError(err) {
				e.log.Debug("strategy failed during replay",
					zap.String("strategy", s.Name()), zap.String("symbol", symbol), zap.Error(err))
			}

			continue
		}

		for _, signal := range signals {
			if signal.Symbol == symbol && signal.Type == types.SignalTypeBuy && signal.Strength >= e.params.MinConfidence {
				out = append(out, entryCandidate{
					symbol:     symbol,
					source:     s.Name(),
					reason:     fmt.Sprintf("%s: %s", s.Name(), signal.Reason),
					confidence: signal.Strength,
				})
			}
		}
	}

	return out
}

// momentum is the price delta over the trailing lookback window, as a
// fraction. It needs at least two observations in the window.
func (s *runState) momentum(symbol string, now time.Time, lookback time.Duration) (float64, bool) {
	cursor := s.cursors[symbol]
	if cursor < 1 {
		return 0, false
	}

	bars := s.series[symbol]
	windowStart := now.Add(-lookback)
	first := -1

	for i := cursor; i >= 0 && !bars[i].Time.Before(windowStart); i-- {
		first = i
	}

	if first < 0 || first == cursor || bars[first].Close == 0 {
		return 0, false
	}

	return (bars[cursor].Close - bars[first].Close) / bars[first].Close, true
}

// openPosition sizes and opens one entry. It reports whether a position was
// actually opened.
func (e *Engine) openPosition(state *runState, candidate entryCandidate, prices map[string]float64, now time.Time) bool {
	price := prices[candidate.symbol]
	execPrice := price * (1 + e.params.Slippage)
	portfolioValue := state.portfolioValue(prices)

	var shares float64

	if e.params.DynamicSizing {
		signal := types.Signal{
			Symbol:   candidate.symbol,
			Type:     types.SignalTypeBuy,
			Strength: math.Min(1, candidate.confidence),
		}

		suggestions := state.riskManager.SuggestPositionSizes(
			[]types.Signal{signal}, portfolioValue, prices, state.quantities())
		shares = math.Floor(suggestions[candidate.symbol])
	} else {
		shares = math.Floor(portfolioValue * e.params.PositionSizePct / execPrice)
	}

	if shares <= 0 {
		return false
	}

	cost := shares * execPrice
	fee := cost * e.params.Commission

	if state.cash < cost+fee {
		return false
	}

	state.cash -= cost + fee
	state.positions[candidate.symbol] = &openPosition{
		Position:   types.NewPosition(candidate.symbol, shares, execPrice, now),
		entryFees:  fee,
		strategyID: candidate.source,
	}

	e.log.Debug("opened position",
		zap.String("symbol", candidate.symbol),
		zap.Float64("shares", shares),
		zap.Float64("price", execPrice),
		zap.String("reason", candidate.reason))

	return true
}

// closePosition sells the whole position at the given price, applying
// slippage and commission, and records the round-trip trade.
func (e *Engine) closePosition(state *runState, symbol string, price float64, now time.Time, reason string) {
	position, ok := state.positions[symbol]
	if !ok {
		return
	}

	execPrice := price * (1 - e.params.Slippage)
	proceeds := position.Quantity * execPrice
	fee := proceeds * e.params.Commission

	state.cash += proceeds - fee

	trade := types.NewClosedTrade(
		symbol,
		position.Quantity,
		position.AvgEntryPrice,
		execPrice,
		position.EntryTime,
		now,
		position.entryFees+fee,
		e.params.Slippage*(position.AvgEntryPrice+execPrice)*position.Quantity,
		reason,
		position.strategyID,
	)

	state.trades = append(state.trades, trade)
	delete(state.positions, symbol)

	e.log.Debug("closed position",
		zap.String("symbol", symbol),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.String("reason", reason))
}

// closeAll force-closes every remaining position at the end of the window.
func (e *Engine) closeAll(state *runState, prices map[string]float64, now time.Time) {
	symbols := make([]string, 0, len(state.positions))
	for symbol := range state.positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			price = state.positions[symbol].CurrentPrice
		}

		e.closePosition(state, symbol, price, now, "end of backtest")
	}
}
