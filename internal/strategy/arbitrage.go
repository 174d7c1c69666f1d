package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/models"
)

// A net margin of 5% saturates arbitrage confidence.
const arbConfidenceScale = 0.05

// Arbitrage fires when buying both sides costs less than the $1 combined
// payout after fees on each leg.
type Arbitrage struct {
	takerFeeRate float64
}

func NewArbitrage(cfg config.TradingConfig) *Arbitrage {
	return &Arbitrage{takerFeeRate: cfg.TakerFeeRate}
}

func (a *Arbitrage) Name() string { return "arbitrage" }

func (a *Arbitrage) Evaluate(_ context.Context, market models.Market, upBook, downBook models.OrderBook, _ []float64) (models.Signal, error) {
	upAsk, upOK := upBook.BestAsk()
	downAsk, downOK := downBook.BestAsk()
	if !upOK || !downOK {
		return skip("missing orderbook data"), nil
	}

	totalCost := upAsk + downAsk
	rawProfit := 1.0 - totalCost
	feeEstimate := a.takerFeeRate * totalCost * 2
	netProfit := rawProfit - feeEstimate

	if netProfit <= 0 {
		return skip("no profitable arbitrage"), nil
	}

	confidence := math.Min(1.0, netProfit/arbConfidenceScale)
	slog.Info("arbitrage opportunity",
		"market", market.Slug,
		"up_ask", upAsk,
		"down_ask", downAsk,
		"net_profit", netProfit,
		"confidence", confidence,
	)

	return models.Signal{
		Type:       models.SignalArbitrageBuy,
		Confidence: confidence,
		Reason:     fmt.Sprintf("up_ask=%.4f down_ask=%.4f net_profit=%.4f", upAsk, downAsk, netProfit),
		Timestamp:  time.Now().UTC(),
		ArbDownAsk: downAsk,
	}, nil
}
