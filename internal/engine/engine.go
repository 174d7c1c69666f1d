// Package engine turns accepted signals into trades and owns the cash
// balance. PaperEngine simulates fills against the live orderbook;
// LiveEngine is a placeholder for real execution.
package engine

import (
	"context"

	"pendulum/internal/models"
)

// ExecutionEngine is the swappable execution backend. ExecuteOrder
// returns (nil, nil) for business-rule rejections (no ask, entry price
// too high, insufficient balance); errors are reserved for genuine
// execution failures. book is the primary-side orderbook for the
// signal: the Up book for BUY_UP and arbitrage, the Down book for
// BUY_DOWN.
type ExecutionEngine interface {
	ExecuteOrder(ctx context.Context, market models.Market, signal models.Signal, book models.OrderBook) (*models.Trade, error)
	Balance() float64
	CheckResolution(market models.Market) *models.Resolution
	CreditResolutionPayout(amount float64)
	Topup(amount float64)
	RestoreBalance(value float64)
}
