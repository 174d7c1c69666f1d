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

// TickSource supplies the most recent BTC tick price. The live feed
// implements it; the provider is injected so the strategy owns no
// shared price state of its own.
type TickSource interface {
	LatestPrice() (float64, bool)
}

// Momentum catches sub-minute BTC spikes by comparing the live tick
// price against the last closed 1-minute candle. Directional works on
// multi-minute EMA trends; this one reacts inside the current candle,
// which keeps the two votes independent.
type Momentum struct {
	ticks     TickSource
	threshold float64 // fractional intracandle change that triggers a vote
}

func NewMomentum(ticks TickSource, cfg config.StrategyConfig) *Momentum {
	return &Momentum{
		ticks:     ticks,
		threshold: cfg.MomentumThresholdPct / 100.0,
	}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Evaluate(_ context.Context, market models.Market, _, _ models.OrderBook, history []float64) (models.Signal, error) {
	current, ok := m.ticks.LatestPrice()
	if !ok {
		return skip("tick price unavailable"), nil
	}
	if len(history) == 0 {
		return skip("no candle history yet"), nil
	}

	lastClose := history[len(history)-1]
	if lastClose == 0 {
		return skip("zero last close"), nil
	}

	change := (current - lastClose) / lastClose

	if change > m.threshold {
		return m.signal(market, models.DirectionUp, change, lastClose, current), nil
	}
	if change < -m.threshold {
		return m.signal(market, models.DirectionDown, change, lastClose, current), nil
	}

	return skip(fmt.Sprintf("intracandle neutral (%.4f%%)", change*100)), nil
}

func (m *Momentum) signal(market models.Market, dir models.Direction, change, lastClose, current float64) models.Signal {
	confidence := math.Min(1.0, math.Abs(change)/(m.threshold*3))
	sigType := models.SignalBuyUp
	if dir == models.DirectionDown {
		sigType = models.SignalBuyDown
	}

	slog.Debug("momentum signal",
		"market", market.Slug,
		"direction", dir,
		"change_pct", change*100,
		"last_close", lastClose,
		"tick", current,
		"confidence", confidence,
	)

	return models.Signal{
		Type:       sigType,
		Direction:  dir,
		Confidence: confidence,
		Reason:     fmt.Sprintf("intracandle%+.3f%% (%.0f->%.0f)", change*100, lastClose, current),
		Timestamp:  time.Now().UTC(),
	}
}
