package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"pendulum/internal/config"
	"pendulum/internal/models"
)

// PaperEngine simulates execution against real orderbook prices:
// fills at best ask plus slippage, charges a taker fee per side, and
// debits a simulated cash balance.
type PaperEngine struct {
	mu      sync.Mutex
	balance float64
	cfg     config.TradingConfig
}

func NewPaperEngine(cfg config.TradingConfig) *PaperEngine {
	return &PaperEngine{balance: cfg.InitialCapital, cfg: cfg}
}

func (e *PaperEngine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

func (e *PaperEngine) ExecuteOrder(_ context.Context, market models.Market, signal models.Signal, book models.OrderBook) (*models.Trade, error) {
	switch signal.Type {
	case models.SignalBuyUp, models.SignalBuyDown:
		return e.executeDirectional(market, signal, book), nil
	case models.SignalArbitrageBuy:
		return e.executeArbitrage(market, signal, book), nil
	default:
		return nil, nil
	}
}

func (e *PaperEngine) executeDirectional(market models.Market, signal models.Signal, book models.OrderBook) *models.Trade {
	ask, ok := book.BestAsk()
	if !ok {
		slog.Info("order rejected", "market", market.Slug, "reason", "no ask available")
		return nil
	}
	if ask > e.cfg.MaxEntryPrice {
		slog.Info("order rejected",
			"market", market.Slug,
			"reason", "entry price above limit",
			"ask", ask,
			"max_entry_price", e.cfg.MaxEntryPrice,
		)
		return nil
	}

	fillPrice := e.fillPrice(ask)

	e.mu.Lock()
	defer e.mu.Unlock()

	betSize := e.computeSize(signal.Confidence)
	fee := betSize * e.cfg.TakerFeeRate
	cost := betSize + fee
	if cost > e.balance {
		slog.Warn("order rejected",
			"market", market.Slug,
			"reason", "insufficient balance",
			"cost", cost,
			"balance", e.balance,
		)
		return nil
	}
	e.balance -= cost

	tokenID := market.UpTokenID
	if signal.Direction == models.DirectionDown {
		tokenID = market.DownTokenID
	}

	trade := &models.Trade{
		TradeID:    uuid.NewString(),
		MarketID:   market.MarketID,
		Direction:  signal.Direction,
		TokenID:    tokenID,
		Amount:     betSize,
		Price:      fillPrice,
		Fee:        fee,
		SignalType: signal.Type,
		Timestamp:  time.Now().UTC(),
		Reason:     signal.Reason,
	}

	slog.Info("paper trade executed",
		"trade", trade.TradeID,
		"market", market.Slug,
		"direction", trade.Direction,
		"amount", betSize,
		"price", fillPrice,
		"fee", fee,
		"balance", e.balance,
	)
	return trade
}

// executeArbitrage buys both sides of the market in one trade. Amount
// and Fee cover both legs; the down-side fill lands in AltPrice.
func (e *PaperEngine) executeArbitrage(market models.Market, signal models.Signal, upBook models.OrderBook) *models.Trade {
	upAsk, ok := upBook.BestAsk()
	if !ok {
		slog.Info("order rejected", "market", market.Slug, "reason", "no ask available")
		return nil
	}
	if upAsk > e.cfg.MaxEntryPrice {
		slog.Info("order rejected",
			"market", market.Slug,
			"reason", "entry price above limit",
			"ask", upAsk,
			"max_entry_price", e.cfg.MaxEntryPrice,
		)
		return nil
	}

	downAsk := signal.ArbDownAsk
	if downAsk == 0 {
		downAsk = 1.0 - upAsk
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	perSide := e.computeSize(signal.Confidence)
	perSideFee := perSide * e.cfg.TakerFeeRate
	totalCost := (perSide + perSideFee) * 2
	if totalCost > e.balance {
		slog.Warn("order rejected",
			"market", market.Slug,
			"reason", "insufficient balance",
			"cost", totalCost,
			"balance", e.balance,
		)
		return nil
	}
	e.balance -= totalCost

	trade := &models.Trade{
		TradeID:    uuid.NewString(),
		MarketID:   market.MarketID,
		Direction:  models.DirectionUp,
		TokenID:    market.UpTokenID,
		Amount:     perSide * 2,
		Price:      e.fillPrice(upAsk),
		Fee:        perSideFee * 2,
		SignalType: signal.Type,
		Timestamp:  time.Now().UTC(),
		AltPrice:   e.fillPrice(downAsk),
		Reason:     signal.Reason,
	}

	slog.Info("paper arbitrage executed",
		"trade", trade.TradeID,
		"market", market.Slug,
		"amount", trade.Amount,
		"up_fill", trade.Price,
		"down_fill", trade.AltPrice,
		"fee", trade.Fee,
		"balance", e.balance,
	)
	return trade
}

// fillPrice applies slippage to the ask. A share never costs more than
// its $1 payout.
func (e *PaperEngine) fillPrice(ask float64) float64 {
	return math.Min(ask*(1+e.cfg.SlippageRate), 1.0)
}

// computeSize returns the bet size for one side. Fixed mode ignores
// confidence; dynamic mode scales a balance percentage by
// 0.5 + 0.5*confidence and clamps into [min, max]. Caller holds e.mu.
func (e *PaperEngine) computeSize(confidence float64) float64 {
	if e.cfg.SizingMode == config.SizingFixed {
		return e.cfg.BetSize
	}
	base := e.balance * e.cfg.PositionSizePct
	scale := 0.5 + 0.5*confidence
	sized := base * scale
	return math.Max(e.cfg.MinBetSize, math.Min(sized, e.cfg.MaxBetSize))
}

// CheckResolution reports a Resolution once the scanner has marked the
// market resolved with a definite outcome.
func (e *PaperEngine) CheckResolution(market models.Market) *models.Resolution {
	if market.Status != models.MarketResolved {
		return nil
	}
	if market.Resolution != models.OutcomeUp && market.Resolution != models.OutcomeDown {
		return nil
	}
	return &models.Resolution{
		MarketID:  market.MarketID,
		Outcome:   market.Resolution,
		Timestamp: time.Now().UTC(),
	}
}

func (e *PaperEngine) CreditResolutionPayout(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance += amount
}

func (e *PaperEngine) Topup(amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance += amount
	slog.Info("balance topped up", "amount", amount, "balance", e.balance)
}

// RestoreBalance overwrites the balance with the value reconstructed
// from persisted state at startup.
func (e *PaperEngine) RestoreBalance(value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balance = value
	slog.Info("balance restored", "balance", value)
}
