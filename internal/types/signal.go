package types

import (
	"time"

	"github.com/moznion/go-optional"
)

type SignalType string

const (
	// SignalTypeBuy recommends opening or adding to a long position.
	SignalTypeBuy SignalType = "buy"
	// SignalTypeSell recommends reducing or closing a long position.
	SignalTypeSell SignalType = "sell"
	// SignalTypeHold recommends no action; used for position monitoring.
	SignalTypeHold SignalType = "hold"
)

// MetadataKeyAllocation tags a signal with the allocation of the strategy
// that produced it, set during the signal-collection cycle and consumed by
// signal combination.
const MetadataKeyAllocation = "allocation"

// Signal is the atomic unit passed between strategies, the allocator and the
// risk manager. A Signal is never mutated in place; helpers return copies.
type Signal struct {
	// StrategyID identifies the strategy that produced the signal.
	StrategyID string
	// Symbol is the traded instrument.
	Symbol string
	// Type is the direction of the recommendation.
	Type SignalType
	// Strength is a confidence score in [0, 1]. It is a weight, not a probability.
	Strength float64
	// Quantity is an optional explicit size. When absent the consumer sizes the signal.
	Quantity optional.Option[float64]
	// Reason is a human-readable explanation of the signal.
	Reason string
	// Metadata carries strategy-specific context.
	Metadata map[string]any
	// Time is when the signal was generated.
	Time time.Time
}

// WithQuantity returns a copy of the signal with the quantity set.
func (s Signal) WithQuantity(qty float64) Signal {
	out := s.clone()
	out.Quantity = optional.Some(qty)

	return out
}

// WithMetadata returns a copy of the signal with the given metadata entry set.
func (s Signal) WithMetadata(key string, value any) Signal {
	out := s.clone()
	out.Metadata[key] = value

	return out
}

// MetadataFloat reads a float64 metadata entry, returning the fallback when
// the key is absent or has a different type.
func (s Signal) MetadataFloat(key string, fallback float64) float64 {
	if raw, ok := s.Metadata[key]; ok {
		if v, ok := raw.(float64); ok {
			return v
		}
	}

	return fallback
}

func (s Signal) clone() Signal {
	out := s
	out.Metadata = make(map[string]any, len(s.Metadata)+1)

	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}

	return out
}
