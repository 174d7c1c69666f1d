package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"pendulum/internal/models"
)

// EMA periods for the crossover check.
const (
	fastPeriod = 3
	slowPeriod = 8
)

// Directional trades BTC momentum: rate of change over the price window
// combined with a fast/slow EMA crossover.
type Directional struct{}

func NewDirectional() *Directional { return &Directional{} }

func (d *Directional) Name() string { return "directional" }

func (d *Directional) Evaluate(_ context.Context, market models.Market, _, _ models.OrderBook, history []float64) (models.Signal, error) {
	if len(history) < slowPeriod {
		return skip("insufficient price history"), nil
	}

	start := history[0]
	end := history[len(history)-1]
	if start == 0 {
		return skip("zero start price"), nil
	}
	momentum := (end - start) / start

	fast := ema(history, fastPeriod)
	slow := ema(history, slowPeriod)
	emaDiff := fast - slow

	// Bullish only when both agree; same for bearish.
	if momentum > 0 && emaDiff > 0 {
		return d.signal(market, models.DirectionUp, momentum, emaDiff), nil
	}
	if momentum < 0 && emaDiff < 0 {
		return d.signal(market, models.DirectionDown, momentum, emaDiff), nil
	}

	return skip("no clear directional signal"), nil
}

func (d *Directional) signal(market models.Market, dir models.Direction, momentum, emaDiff float64) models.Signal {
	confidence := math.Min(1.0, math.Abs(momentum)+math.Abs(emaDiff))
	sigType := models.SignalBuyUp
	if dir == models.DirectionDown {
		sigType = models.SignalBuyDown
	}

	slog.Debug("directional signal",
		"market", market.Slug,
		"direction", dir,
		"momentum", momentum,
		"ema_diff", emaDiff,
		"confidence", confidence,
	)

	return models.Signal{
		Type:       sigType,
		Direction:  dir,
		Confidence: confidence,
		Reason:     fmt.Sprintf("momentum=%.4f ema_diff=%.4f", momentum, emaDiff),
		Timestamp:  time.Now().UTC(),
	}
}

// ema returns the final value of the exponential moving average:
// ema[0] = v[0], ema[i] = v[i]*k + ema[i-1]*(1-k), k = 2/(period+1).
func ema(values []float64, period int) float64 {
	k := 2.0 / float64(period+1)
	result := values[0]
	for _, v := range values[1:] {
		result = v*k + result*(1-k)
	}
	return result
}
