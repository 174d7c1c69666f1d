// Package risk holds the portfolio ledger and the circuit breaker.
//
// The portfolio keeps its own cash balance alongside the execution
// engine's. Every debit and credit happens in both ledgers, and tests
// assert they never diverge. The duplication is a redundancy check on
// the accounting, not a cache.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"pendulum/internal/db"
	"pendulum/internal/models"
)

// Portfolio is the accounting ledger: balance, win/loss record, PnL,
// drawdown and the set of currently open trades. All reads go through
// the mutex so the Telegram command loop observes consistent state.
type Portfolio struct {
	mu             sync.Mutex
	repo           db.Repository
	balance        float64
	initialCapital float64
	totalTrades    int
	wins           int
	losses         int
	totalPnL       float64
	peakBalance    float64
	maxDrawdown    float64
	open           map[string]*models.Trade // keyed by trade ID
}

func NewPortfolio(repo db.Repository, initialCapital float64) *Portfolio {
	return &Portfolio{
		repo:           repo,
		balance:        initialCapital,
		initialCapital: initialCapital,
		peakBalance:    initialCapital,
		open:           make(map[string]*models.Trade),
	}
}

// RecordTrade persists the trade, then debits the ledger by the full
// cost (amount plus fee). The save happens first so a crash between
// the two is recoverable by Restore.
func (p *Portfolio) RecordTrade(trade *models.Trade) error {
	if err := p.repo.SaveTrade(*trade); err != nil {
		return fmt.Errorf("saving trade %s: %w", trade.TradeID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalTrades++
	p.open[trade.TradeID] = trade
	p.balance -= trade.Amount + trade.Fee
	p.updateDrawdownLocked()

	slog.Info("trade recorded",
		"trade", trade.TradeID,
		"market", trade.MarketID,
		"cost", trade.Amount+trade.Fee,
		"balance", p.balance,
		"open_trades", len(p.open),
	)
	return nil
}

// HandleResolution settles one open trade: computes PnL, stamps the
// trade, updates the win/loss record, credits the balance by
// pnl + amount + fee (recovering the original debit plus net result)
// and persists the result. Must be called at most once per trade; the
// orchestrator guarantees single delivery.
func (p *Portfolio) HandleResolution(trade *models.Trade, res models.Resolution) (float64, error) {
	pnl := computePnL(trade, res.Outcome)

	if err := p.repo.UpdateTradeResolution(trade.TradeID, pnl); err != nil {
		return 0, fmt.Errorf("persisting resolution for trade %s: %w", trade.TradeID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	trade.PnL = &pnl
	trade.Resolved = true
	if pnl > 0 {
		p.wins++
	} else {
		// Zero pnl counts as a loss, not a push.
		p.losses++
	}
	p.totalPnL += pnl

	payout := pnl + trade.Amount + trade.Fee
	p.balance += payout
	delete(p.open, trade.TradeID)
	p.updateDrawdownLocked()

	slog.Info("trade resolved",
		"trade", trade.TradeID,
		"market", trade.MarketID,
		"outcome", res.Outcome,
		"pnl", pnl,
		"payout", payout,
		"balance", p.balance,
	)
	return pnl, nil
}

// computePnL settles a trade against an outcome. Directional trades
// win only if their direction matches; arbitrage trades collect the
// winning leg's shares either way.
func computePnL(trade *models.Trade, outcome models.Outcome) float64 {
	if trade.SignalType == models.SignalArbitrageBuy {
		return arbitragePnL(trade, outcome)
	}
	return directionalPnL(trade, outcome)
}

func directionalPnL(trade *models.Trade, outcome models.Outcome) float64 {
	won := (trade.Direction == models.DirectionUp && outcome == models.OutcomeUp) ||
		(trade.Direction == models.DirectionDown && outcome == models.OutcomeDown)
	if !won {
		return -(trade.Amount + trade.Fee)
	}
	if trade.Price <= 0 {
		return 0
	}
	shares := trade.Amount / trade.Price
	payout := shares * 1.0
	return payout - trade.Amount - trade.Fee
}

func arbitragePnL(trade *models.Trade, outcome models.Outcome) float64 {
	half := trade.Amount / 2

	upPrice := trade.Price
	downPrice := trade.AltPrice
	if downPrice == 0 {
		downPrice = math.Max(1-upPrice, 0.01)
	}

	var upShares, downShares float64
	if upPrice > 0 {
		upShares = half / upPrice
	}
	if downPrice > 0 {
		downShares = half / downPrice
	}

	var payout float64
	switch outcome {
	case models.OutcomeUp:
		payout = upShares
	case models.OutcomeDown:
		payout = downShares
	default:
		// Ambiguous settlement: assume cost basis comes back, fee lost.
		payout = half
	}
	return payout - trade.Amount - trade.Fee
}

// Topup credits the balance and snapshots immediately so the injection
// survives a restart.
func (p *Portfolio) Topup(amount float64) (float64, error) {
	p.mu.Lock()
	p.balance += amount
	balance := p.balance
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if err := p.repo.SaveSnapshot(snap); err != nil {
		return balance, fmt.Errorf("saving topup snapshot: %w", err)
	}
	slog.Info("portfolio topped up", "amount", amount, "balance", balance)
	return balance, nil
}

// SaveSnapshot appends the current state to the snapshot log.
func (p *Portfolio) SaveSnapshot() error {
	p.mu.Lock()
	snap := p.snapshotLocked()
	p.mu.Unlock()
	if err := p.repo.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Restore rebuilds the ledger from the persisted trade log rather than
// the last snapshot, so it stays correct under partial-failure
// histories and manual database edits. Only max drawdown comes from
// the latest snapshot; it is not cheaply recomputable from trades.
func (p *Portfolio) Restore() error {
	resolved, err := p.repo.GetResolvedTrades()
	if err != nil {
		return fmt.Errorf("loading resolved trades: %w", err)
	}
	open, err := p.repo.GetOpenTrades()
	if err != nil {
		return fmt.Errorf("loading open trades: %w", err)
	}
	snap, err := p.repo.LatestSnapshot()
	if err != nil {
		return fmt.Errorf("loading latest snapshot: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.wins, p.losses, p.totalPnL = 0, 0, 0
	for _, t := range resolved {
		if t.PnL == nil {
			continue
		}
		if *t.PnL > 0 {
			p.wins++
		} else {
			p.losses++
		}
		p.totalPnL += *t.PnL
	}

	var openCost float64
	p.open = make(map[string]*models.Trade, len(open))
	for i := range open {
		t := open[i]
		openCost += t.Amount + t.Fee
		p.open[t.TradeID] = &t
	}

	p.totalTrades = len(resolved) + len(open)
	p.balance = p.initialCapital + p.totalPnL - openCost
	p.peakBalance = math.Max(p.initialCapital, p.balance)
	p.maxDrawdown = 0
	if snap != nil {
		p.maxDrawdown = snap.MaxDrawdown
	}

	slog.Info("portfolio restored",
		"balance", p.balance,
		"total_trades", p.totalTrades,
		"wins", p.wins,
		"losses", p.losses,
		"total_pnl", p.totalPnL,
		"open_trades", len(p.open),
		"max_drawdown", p.maxDrawdown,
	)
	return nil
}

// Balance returns the ledger's cash balance.
func (p *Portfolio) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// Stats returns a consistent point-in-time snapshot of the ledger.
func (p *Portfolio) Stats() models.PortfolioSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// MaxDrawdown returns the worst peak-to-balance fraction seen this
// session. Monotonically non-decreasing.
func (p *Portfolio) MaxDrawdown() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxDrawdown
}

// HasOpenTrade reports whether any open trade exists for the market.
func (p *Portfolio) HasOpenTrade(marketID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.open {
		if t.MarketID == marketID {
			return true
		}
	}
	return false
}

// OpenTrades returns the open trades, for resolution processing.
func (p *Portfolio) OpenTrades() []*models.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.Trade, 0, len(p.open))
	for _, t := range p.open {
		out = append(out, t)
	}
	return out
}

func (p *Portfolio) snapshotLocked() models.PortfolioSnapshot {
	return models.PortfolioSnapshot{
		Balance:     p.balance,
		TotalTrades: p.totalTrades,
		Wins:        p.wins,
		Losses:      p.losses,
		TotalPnL:    p.totalPnL,
		MaxDrawdown: p.maxDrawdown,
		Timestamp:   time.Now().UTC(),
	}
}

// updateDrawdownLocked raises the peak when the balance makes a new
// high and ratchets max drawdown when the gap to peak widens. Never
// lowers either. Caller holds p.mu.
func (p *Portfolio) updateDrawdownLocked() {
	if p.balance > p.peakBalance {
		p.peakBalance = p.balance
	}
	if p.peakBalance <= 0 {
		return
	}
	drawdown := (p.peakBalance - p.balance) / p.peakBalance
	if drawdown > p.maxDrawdown {
		p.maxDrawdown = drawdown
	}
}
