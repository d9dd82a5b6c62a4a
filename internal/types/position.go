package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// Position represents current holdings of a single symbol, live or simulated.
// It is created on a filled buy, marked on every price tick and destroyed when
// the quantity reaches zero.
type Position struct {
	Symbol string
	// Quantity is signed; positive means long.
	Quantity float64
	// AvgEntryPrice is the volume-weighted average entry price.
	AvgEntryPrice float64
	// CurrentPrice is the last marked price.
	CurrentPrice float64
	// UnrealizedPnL is the mark-to-market profit in account currency.
	UnrealizedPnL float64
	// UnrealizedPnLPct is the mark-to-market profit as a fraction of the entry
	// price (0.02 means +2%).
	UnrealizedPnLPct float64
	// EntryTime is when the position was opened.
	EntryTime time.Time
	// HighestPrice is the highest marked price since entry.
	HighestPrice float64
	// LowestPrice is the lowest marked price since entry.
	LowestPrice float64
	// TrailingStop is the armed trailing stop level, if any. It only ever
	// ratchets upward once set.
	TrailingStop optional.Option[float64]
}

// NewPosition opens a position at the given price and time.
func NewPosition(symbol string, quantity, price float64, entryTime time.Time) *Position {
	return &Position{
		Symbol:           symbol,
		Quantity:         quantity,
		AvgEntryPrice:    price,
		CurrentPrice:     price,
		UnrealizedPnL:    0,
		UnrealizedPnLPct: 0,
		EntryTime:        entryTime,
		HighestPrice:     price,
		LowestPrice:      price,
		TrailingStop:     optional.None[float64](),
	}
}

// MarkPrice updates the position for a new observed price: current price,
// unrealized PnL and the running high/low since entry.
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.AvgEntryPrice) * p.Quantity

	if p.AvgEntryPrice != 0 {
		p.UnrealizedPnLPct = (price - p.AvgEntryPrice) / p.AvgEntryPrice
	}

	if price > p.HighestPrice {
		p.HighestPrice = price
	}

	if price < p.LowestPrice {
		p.LowestPrice = price
	}
}

// AddQuantity applies a partial fill at the given price, recomputing the
// volume-weighted average entry price.
func (p *Position) AddQuantity(quantity, price float64) {
	total := p.Quantity + quantity
	if total <= 0 {
		return
	}

	p.AvgEntryPrice = (p.AvgEntryPrice*p.Quantity + price*quantity) / total
	p.Quantity = total
	p.MarkPrice(price)
}

// MarketValue returns the current market value of the position.
func (p *Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}
