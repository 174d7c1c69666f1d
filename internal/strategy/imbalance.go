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

// Imbalance reads directional bias from the bid/ask volume ratio of the
// Up-side orderbook.
type Imbalance struct {
	threshold float64
}

func NewImbalance(cfg config.StrategyConfig) *Imbalance {
	return &Imbalance{threshold: cfg.ImbalanceThreshold}
}

func (i *Imbalance) Name() string { return "imbalance" }

func (i *Imbalance) Evaluate(_ context.Context, market models.Market, upBook, _ models.OrderBook, _ []float64) (models.Signal, error) {
	var bidVol, askVol float64
	for _, lvl := range upBook.Bids {
		bidVol += lvl.Size
	}
	for _, lvl := range upBook.Asks {
		askVol += lvl.Size
	}

	if bidVol == 0 && askVol == 0 {
		return skip("empty orderbook"), nil
	}

	// A one-sided book is the strongest possible imbalance.
	if askVol == 0 {
		return i.signal(market, models.DirectionUp, 1.0,
			fmt.Sprintf("bid_vol=%.1f ask_vol=0 ratio=inf", bidVol)), nil
	}
	if bidVol == 0 {
		return i.signal(market, models.DirectionDown, 1.0,
			fmt.Sprintf("bid_vol=0 ask_vol=%.1f ratio=0", askVol)), nil
	}

	ratio := bidVol / askVol

	if ratio >= i.threshold {
		confidence := math.Min(1.0, (ratio-1)/2)
		return i.signal(market, models.DirectionUp, confidence, fmt.Sprintf("bid/ask=%.2f", ratio)), nil
	}
	if ratio <= 1/i.threshold {
		confidence := math.Min(1.0, (1/ratio-1)/2)
		return i.signal(market, models.DirectionDown, confidence, fmt.Sprintf("bid/ask=%.2f", ratio)), nil
	}

	return skip(fmt.Sprintf("no imbalance (ratio=%.2f)", ratio)), nil
}

func (i *Imbalance) signal(market models.Market, dir models.Direction, confidence float64, reason string) models.Signal {
	sigType := models.SignalBuyUp
	if dir == models.DirectionDown {
		sigType = models.SignalBuyDown
	}

	slog.Debug("imbalance signal",
		"market", market.Slug,
		"direction", dir,
		"confidence", confidence,
		"reason", reason,
	)

	return models.Signal{
		Type:       sigType,
		Direction:  dir,
		Confidence: confidence,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
}
