package engine

import (
	"context"
	"errors"

	"pendulum/internal/models"
)

// ErrLiveNotImplemented is returned by every LiveEngine order. Real
// execution against the exchange is deliberately not built.
var ErrLiveNotImplemented = errors.New("live trading is not implemented")

// LiveEngine satisfies ExecutionEngine but refuses to trade. Selecting
// mode "live" fails at startup; the type exists so the wiring compiles
// against the interface rather than the paper implementation.
type LiveEngine struct{}

func NewLiveEngine() *LiveEngine { return &LiveEngine{} }

func (e *LiveEngine) ExecuteOrder(context.Context, models.Market, models.Signal, models.OrderBook) (*models.Trade, error) {
	return nil, ErrLiveNotImplemented
}

func (e *LiveEngine) Balance() float64 { return 0 }

func (e *LiveEngine) CheckResolution(models.Market) *models.Resolution { return nil }

func (e *LiveEngine) CreditResolutionPayout(float64) {}

func (e *LiveEngine) Topup(float64) {}

func (e *LiveEngine) RestoreBalance(float64) {}
