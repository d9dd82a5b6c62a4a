package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is the append-only record of a closed round trip. It is never mutated
// after creation.
type Trade struct {
	// ID uniquely identifies the trade.
	ID string `yaml:"id"`
	// Symbol is the traded instrument.
	Symbol string `yaml:"symbol"`
	// Side is the direction of the entry.
	Side Side `yaml:"side"`
	// Quantity is the closed quantity.
	Quantity float64 `yaml:"quantity"`
	// EntryPrice and ExitPrice are the effective prices after slippage.
	EntryPrice float64 `yaml:"entry_price"`
	ExitPrice  float64 `yaml:"exit_price"`
	EntryTime  time.Time `yaml:"entry_time"`
	ExitTime   time.Time `yaml:"exit_time"`
	// RealizedPnL is the profit after fees, in account currency.
	RealizedPnL float64 `yaml:"realized_pnl"`
	// RealizedPnLPct is the profit as a fraction of the entry value, before fees.
	RealizedPnLPct float64 `yaml:"realized_pnl_pct"`
	// Fees is the total commission paid on entry and exit.
	Fees float64 `yaml:"fees"`
	// Slippage is the total price concession applied on entry and exit.
	Slippage float64 `yaml:"slippage"`
	// Reason is the exit reason, e.g. "stop loss" or "take profit".
	Reason string `yaml:"reason"`
	// StrategyID identifies the strategy that opened the position.
	StrategyID string `yaml:"strategy_id"`
}

// NewClosedTrade builds a trade record for a closed long position. The PnL is
// computed with decimal arithmetic so large quantities do not accumulate
// floating point error.
func NewClosedTrade(symbol string, quantity, entryPrice, exitPrice float64, entryTime, exitTime time.Time, fees, slippage float64, reason, strategyID string) Trade {
	qty := decimal.NewFromFloat(quantity)
	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)

	gross := exit.Sub(entry).Mul(qty)
	pnl, _ := gross.Sub(decimal.NewFromFloat(fees)).Float64()

	pnlPct := 0.0
	if entryPrice != 0 {
		pnlPct = (exitPrice - entryPrice) / entryPrice
	}

	return Trade{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Side:           SideBuy,
		Quantity:       quantity,
		EntryPrice:     entryPrice,
		ExitPrice:      exitPrice,
		EntryTime:      entryTime,
		ExitTime:       exitTime,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		Fees:           fees,
		Slippage:       slippage,
		Reason:         reason,
		StrategyID:     strategyID,
	}
}

// HoldingTime returns the duration between entry and exit.
func (t Trade) HoldingTime() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
