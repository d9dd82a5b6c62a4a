// Package execution provides execution sink implementations. Real order
// routing lives outside this system; the sinks here terminate the pipeline
// for local runs and tests.
package execution

import (
	"context"

	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/portfolio"
)

// LogSink records every submitted order to the log and accepts it. It stands
// in for a broker connection when running the portfolio service locally.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink that logs orders.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Submit implements portfolio.ExecutionSink.
func (s *LogSink) Submit(_ context.Context, order portfolio.Order) error {
	s.log.Info("order received",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("quantity", order.Quantity),
		zap.String("reason", order.Reason))

	return nil
}

var _ portfolio.ExecutionSink = (*LogSink)(nil)
