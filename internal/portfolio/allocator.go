// Package portfolio owns the set of active strategies and their capital
// weights. The Allocator is the single owner of the allocation map; all
// mutation goes through its atomic operations so periodic loops can never
// observe a partially rebalanced state.
package portfolio

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/strategy"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// CombinedStrategyID marks signals produced by merging several strategies'
// signals for the same symbol and direction.
const CombinedStrategyID = "portfolio_combined"

// signalBufferCap bounds each strategy's recent-signal buffer.
const signalBufferCap = 100

// AllocatorConfig holds the rebalancing constants. The smoothing split and
// the allocation clamp are configuration, not derived values.
type AllocatorConfig struct {
	// MinAllocation and MaxAllocation clamp a strategy's target weight before
	// smoothing.
	MinAllocation float64 `yaml:"min_allocation" validate:"gte=0,lt=1"`
	MaxAllocation float64 `yaml:"max_allocation" validate:"gt=0,lte=1,gtfield=MinAllocation"`
	// SmoothingFactor is the share of the new target blended into the current
	// allocation on each rebalance.
	SmoothingFactor float64 `yaml:"smoothing_factor" validate:"gt=0,lte=1"`
}

// DefaultAllocatorConfig returns the standard 5%/40% clamp with 0.7/0.3
// exponential smoothing.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		MinAllocation:   0.05,
		MaxAllocation:   0.40,
		SmoothingFactor: 0.3,
	}
}

// StrategyAllocation wraps one strategy with its capital weight and recent
// signal history. It is owned exclusively by the Allocator.
type StrategyAllocation struct {
	StrategyID       string
	Strategy         strategy.Strategy
	Allocation       float64
	Enabled          bool
	PerformanceScore float64

	recentSignals []types.Signal
}

// AllocationView is a read-only snapshot of one strategy's allocation state.
type AllocationView struct {
	StrategyID       string  `yaml:"strategy_id"`
	Allocation       float64 `yaml:"allocation"`
	Enabled          bool    `yaml:"enabled"`
	PerformanceScore float64 `yaml:"performance_score"`
	RecentSignals    int     `yaml:"recent_signals"`
}

// Allocator manages the strategies of a portfolio and combines their signals.
// It is safe for concurrent use.
type Allocator struct {
	mu         sync.Mutex
	config     AllocatorConfig
	log        *logger.Logger
	strategies map[string]*StrategyAllocation
}

// NewAllocator creates an empty allocator.
func NewAllocator(config AllocatorConfig, log *logger.Logger) *Allocator {
	return &Allocator{
		config:     config,
		log:        log,
		strategies: make(map[string]*StrategyAllocation),
	}
}

// AddStrategy inserts a strategy at the given initial weight and renormalizes
// all allocations to sum to 1.
func (a *Allocator) AddStrategy(s strategy.Strategy, initialAllocation float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.strategies[s.Name()]; exists {
		return errors.Newf(errors.ErrCodeStrategyAlreadyAdded, "strategy %q already added", s.Name())
	}

	a.strategies[s.Name()] = &StrategyAllocation{
		StrategyID:       s.Name(),
		Strategy:         s,
		Allocation:       initialAllocation,
		Enabled:          true,
		PerformanceScore: 0.5,
	}

	a.normalizeLocked()

	a.log.Info("added strategy",
		zap.String("strategy", s.Name()),
		zap.Float64("allocation", a.strategies[s.Name()].Allocation))

	return nil
}

// RemoveStrategy deletes a strategy and renormalizes the remaining weights.
func (a *Allocator) RemoveStrategy(strategyID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.strategies[strategyID]; !exists {
		return errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q not found", strategyID)
	}

	delete(a.strategies, strategyID)
	a.normalizeLocked()

	a.log.Info("removed strategy", zap.String("strategy", strategyID))

	return nil
}

// Combine merges signals that target the same symbol and direction. Groups of
// one pass through unchanged. Merged strength is the allocation-and-strength
// weighted average of the group; the merged reason concatenates each source.
// The result is sorted by strength descending, which is the tie-break used
// when the consumer caps submissions.
func (a *Allocator) Combine(signals []types.Signal) []types.Signal {
	type groupKey struct {
		symbol     string
		signalType types.SignalType
	}

	groups := make(map[groupKey][]types.Signal)
	order := make([]groupKey, 0)

	for _, signal := range signals {
		key := groupKey{symbol: signal.Symbol, signalType: signal.Type}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], signal)
	}

	combined := make([]types.Signal, 0, len(order))

	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			combined = append(combined, group[0])
		} else {
			combined = append(combined, mergeSignals(group))
		}
	}

	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].Strength != combined[j].Strength {
			return combined[i].Strength > combined[j].Strength
		}

		return combined[i].Symbol < combined[j].Symbol
	})

	return combined
}

// mergeSignals folds a group of same-symbol, same-direction signals into one.
// Each signal's weight is its strategy allocation times its strength.
func mergeSignals(group []types.Signal) types.Signal {
	var totalWeight, weightedStrength float64

	reasons := make([]string, 0, len(group))
	sources := make([]string, 0, len(group))

	for _, signal := range group {
		allocation := signal.MetadataFloat(types.MetadataKeyAllocation, 0.25)
		weight := allocation * signal.Strength
		totalWeight += weight
		weightedStrength += weight * signal.Strength

		reasons = append(reasons, fmt.Sprintf("%s: %s", signal.StrategyID, signal.Reason))
		sources = append(sources, signal.StrategyID)
	}

	strength := 0.0
	if totalWeight > 0 {
		strength = weightedStrength / totalWeight
	}

	return types.Signal{
		StrategyID: CombinedStrategyID,
		Symbol:     group[0].Symbol,
		Type:       group[0].Type,
		Strength:   strength,
		Quantity:   group[0].Quantity,
		Reason:     "combined signal: " + strings.Join(reasons, "; "),
		Metadata: map[string]any{
			"source_strategies": sources,
			"signal_count":      len(group),
		},
		Time: group[0].Time,
	}
}

// Rebalance updates each strategy's weight from its performance score: the
// target is the score's share of the total, clamped to the configured range,
// blended into the current weight by the smoothing factor, then all weights
// are renormalized to sum to 1. Invoked back to back with unchanged scores
// the smoothing makes the effect negligible.
func (a *Allocator) Rebalance(scores map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	totalScore := 0.0

	for strategyID, allocation := range a.strategies {
		score, ok := scores[strategyID]
		if !ok {
			score = allocation.PerformanceScore
		}

		allocation.PerformanceScore = score
		totalScore += score
	}

	if totalScore > 0 {
		for _, allocation := range a.strategies {
			target := allocation.PerformanceScore / totalScore

			if target < a.config.MinAllocation {
				target = a.config.MinAllocation
			}

			if target > a.config.MaxAllocation {
				target = a.config.MaxAllocation
			}

			keep := 1 - a.config.SmoothingFactor
			allocation.Allocation = keep*allocation.Allocation + a.config.SmoothingFactor*target
		}
	}

	a.normalizeLocked()

	for strategyID, allocation := range a.strategies {
		a.log.Info("rebalanced strategy",
			zap.String("strategy", strategyID),
			zap.Float64("allocation", allocation.Allocation),
			zap.Float64("score", allocation.PerformanceScore))
	}
}

// SetAllEnabled toggles every strategy at once. The risk monitor uses this as
// a portfolio-wide circuit breaker.
func (a *Allocator) SetAllEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, allocation := range a.strategies {
		allocation.Enabled = enabled
	}
}

// SetEnabled toggles a single strategy.
func (a *Allocator) SetEnabled(strategyID string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	allocation, exists := a.strategies[strategyID]
	if !exists {
		return errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q not found", strategyID)
	}

	allocation.Enabled = enabled

	return nil
}

// RecordSignals appends signals to a strategy's bounded recent-signal buffer.
func (a *Allocator) RecordSignals(strategyID string, signals []types.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	allocation, exists := a.strategies[strategyID]
	if !exists {
		return
	}

	allocation.recentSignals = append(allocation.recentSignals, signals...)
	if len(allocation.recentSignals) > signalBufferCap {
		allocation.recentSignals = allocation.recentSignals[len(allocation.recentSignals)-signalBufferCap:]
	}
}

// EnabledStrategy is a point-in-time copy of one enabled strategy and its
// weight. Strategies are stateless, so the Strategy itself may be invoked
// outside the allocator lock; the weight is fixed at snapshot time.
type EnabledStrategy struct {
	StrategyID string
	Strategy   strategy.Strategy
	Allocation float64
}

// EnabledStrategies returns copies of the enabled strategies with their
// current allocations, sorted by strategy ID. Callers never receive the live
// allocation entries, so a concurrent rebalance cannot alter what a running
// signal cycle observes.
func (a *Allocator) EnabledStrategies() []EnabledStrategy {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]EnabledStrategy, 0, len(a.strategies))

	for _, allocation := range a.strategies {
		if allocation.Enabled {
			out = append(out, EnabledStrategy{
				StrategyID: allocation.StrategyID,
				Strategy:   allocation.Strategy,
				Allocation: allocation.Allocation,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })

	return out
}

// Snapshot returns a read-only view of every strategy's allocation state,
// sorted by strategy ID.
func (a *Allocator) Snapshot() []AllocationView {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AllocationView, 0, len(a.strategies))

	for _, allocation := range a.strategies {
		out = append(out, AllocationView{
			StrategyID:       allocation.StrategyID,
			Allocation:       allocation.Allocation,
			Enabled:          allocation.Enabled,
			PerformanceScore: allocation.PerformanceScore,
			RecentSignals:    len(allocation.recentSignals),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })

	return out
}

// TotalAllocation returns the sum of all allocations. It is 1 whenever at
// least one strategy exists.
func (a *Allocator) TotalAllocation() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0.0
	for _, allocation := range a.strategies {
		total += allocation.Allocation
	}

	return total
}

func (a *Allocator) normalizeLocked() {
	total := 0.0
	for _, allocation := range a.strategies {
		total += allocation.Allocation
	}

	if total <= 0 {
		return
	}

	for _, allocation := range a.strategies {
		allocation.Allocation /= total
	}
}
