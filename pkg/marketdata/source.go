// Package marketdata provides market data sources: an in-memory source for
// tests and small replays, and a DuckDB-backed source for historical series.
// Both serve the portfolio service's per-cycle price needs and the backtest
// engine's full-window reads.
package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// MemorySource serves bars from memory. Series are kept sorted by time. It is
// safe for concurrent reads and writes.
type MemorySource struct {
	mu     sync.RWMutex
	series map[string][]types.Bar
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		series: make(map[string][]types.Bar),
	}
}

// Add appends bars to their symbols' series, keeping each series sorted.
func (s *MemorySource) Add(bars ...types.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})

	for _, bar := range bars {
		s.series[bar.Symbol] = append(s.series[bar.Symbol], bar)
		touched[bar.Symbol] = struct{}{}
	}

	for symbol := range touched {
		series := s.series[symbol]
		sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	}
}

// LatestPrices returns the last close per requested symbol. Symbols with no
// data are omitted; an empty result is an error so a cycle can treat the
// fetch as failed.
func (s *MemorySource) LatestPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make(map[string]float64)

	for _, symbol := range symbols {
		if series := s.series[symbol]; len(series) > 0 {
			prices[symbol] = series[len(series)-1].Close
		}
	}

	if len(prices) == 0 {
		return nil, errors.New(errors.ErrCodeMarketDataUnavailable, "no prices available for requested symbols")
	}

	return prices, nil
}

// History returns up to the given number of most recent bars for a symbol,
// oldest first.
func (s *MemorySource) History(_ context.Context, symbol string, bars int) ([]types.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[symbol]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "no data for symbol %q", symbol)
	}

	from := len(series) - bars
	if from < 0 {
		from = 0
	}

	out := make([]types.Bar, len(series)-from)
	copy(out, series[from:])

	return out, nil
}

// HistoricalBars returns the bars of a symbol between start and end
// inclusive, oldest first.
func (s *MemorySource) HistoricalBars(_ context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Bar

	for _, bar := range s.series[symbol] {
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}

		out = append(out, bar)
	}

	return out, nil
}
