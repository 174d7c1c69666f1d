// Package models defines the value types shared by every component:
// markets, orderbooks, signals, trades, resolutions and portfolio
// snapshots. These carry no behavior beyond derived accessors.
package models

import (
	"math"
	"time"
)

// Direction is the side of a binary Up/Down market.
type Direction string

const (
	DirectionUp   Direction = "Up"
	DirectionDown Direction = "Down"
)

// SignalType classifies a strategy's recommendation.
type SignalType string

const (
	SignalBuyUp        SignalType = "BUY_UP"
	SignalBuyDown      SignalType = "BUY_DOWN"
	SignalArbitrageBuy SignalType = "ARBITRAGE_BUY"
	SignalSkip         SignalType = "SKIP"
)

// MarketStatus is the lifecycle state of a market. Transitions are
// one-directional: pending -> active -> resolved.
type MarketStatus string

const (
	MarketPending  MarketStatus = "pending"
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
)

// Outcome is the settled result of a resolved market.
type Outcome string

const (
	OutcomeUp      Outcome = "Up"
	OutcomeDown    Outcome = "Down"
	OutcomeUnknown Outcome = "unknown"
)

// Market is one 5-minute BTC Up/Down market as seen by the scanner.
// Mutated in place as fresh snapshots arrive; never deleted from the
// store once persisted.
type Market struct {
	MarketID    string
	Slug        string
	Question    string
	Status      MarketStatus
	UpTokenID   string
	DownTokenID string
	EndTime     time.Time
	UpPrice     float64
	DownPrice   float64
	Resolution  Outcome // empty until resolved
}

// OrderBookLevel is a single (price, size) level.
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBook holds one token's bid and ask ladders. Bids are sorted by
// non-increasing price, asks by non-decreasing price. Ephemeral:
// refetched each evaluation, never persisted.
type OrderBook struct {
	TokenID string
	Bids    []OrderBookLevel
	Asks    []OrderBookLevel
}

// BestBid returns the highest bid price, if any.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, if any.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Spread returns best ask minus best bid, or false if either side is empty.
func (b OrderBook) Spread() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	return ask - bid, true
}

// Signal is a strategy's recommendation for one market. Transient.
type Signal struct {
	Type       SignalType
	Direction  Direction // empty for SKIP and pure arbitrage
	Confidence float64   // [0, 1]
	Reason     string    // diagnostic; the notifier renders ensemble vote traces from it
	Timestamp  time.Time
	ArbDownAsk float64 // down-side ask carried by arbitrage signals, 0 when unset
}

// Trade is one executed (simulated) position. For arbitrage trades
// Amount and Fee cover both legs and AltPrice holds the down-side fill.
type Trade struct {
	TradeID    string
	MarketID   string
	Direction  Direction
	TokenID    string
	Amount     float64 // cost basis, fee excluded
	Price      float64 // primary-side fill price
	Fee        float64
	SignalType SignalType
	Timestamp  time.Time
	PnL        *float64 // nil until resolved
	Resolved   bool
	AltPrice   float64 // second-leg fill price, arbitrage only (0 when unset)
	Reason     string
}

// Resolution is the observed settlement of a market, consumed once per
// open trade on that market.
type Resolution struct {
	MarketID  string
	Outcome   Outcome
	Timestamp time.Time
}

// PortfolioSnapshot is a point-in-time rollup of portfolio state,
// appended at least once per tick and on shutdown.
type PortfolioSnapshot struct {
	Balance     float64
	TotalTrades int
	Wins        int
	Losses      int
	TotalPnL    float64
	MaxDrawdown float64
	Timestamp   time.Time
}

// WinRate returns wins/(wins+losses), 0 when nothing has resolved.
func (s PortfolioSnapshot) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// ProfitFactor returns wins/losses, +Inf when there are wins and no losses.
func (s PortfolioSnapshot) ProfitFactor() float64 {
	if s.Losses == 0 {
		if s.Wins > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return float64(s.Wins) / float64(s.Losses)
}
