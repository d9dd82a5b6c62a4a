// Package strategy defines the signal-generation contract and the built-in
// trading strategies. A strategy is a pure decision function: it reads a bar
// history and the current holdings and emits advisory signals. It never
// touches an account, so the same strategy runs unchanged in backtests and in
// the live portfolio service.
package strategy

import (
	"github.com/tidemark-trading/tidemark/internal/types"
)

// Strategy produces trading signals from market data.
//
// Execute must be free of side effects on the account: it receives a read-only
// view of the current positions (symbol to quantity) and returns zero or more
// signals. Implementations may keep internal computation state but must not
// assume Execute is called on any fixed cadence.
type Strategy interface {
	// Name returns the registered strategy name.
	Name() string

	// Validate checks the strategy parameters. It is called once before the
	// strategy is used.
	Validate() error

	// Execute evaluates the bar history (oldest first, single symbol) and
	// returns signals. Returning an empty slice means no opinion.
	Execute(history []types.Bar, positions map[string]float64) ([]types.Signal, error)
}
