package strategy

import (
	"context"
	"time"

	"pendulum/internal/models"
)

// Strategy is the interface all trading strategies must implement.
// Evaluate is a pure function of its inputs: given a market, both
// orderbooks and the BTC close-price history (oldest first) it returns
// exactly one signal. Missing or insufficient data yields a SKIP signal
// with a diagnostic reason, not an error; errors are reserved for
// genuine evaluation failures, which the ensemble isolates.
type Strategy interface {
	Name() string
	Evaluate(ctx context.Context, market models.Market, upBook, downBook models.OrderBook, history []float64) (models.Signal, error)
}

func skip(reason string) models.Signal {
	return models.Signal{
		Type:      models.SignalSkip,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}
