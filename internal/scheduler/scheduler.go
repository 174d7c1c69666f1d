// Package scheduler runs the trading loop: scan markets, settle
// resolutions, consult the circuit breaker, evaluate strategies and
// snapshot the portfolio, one tick at a time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/db"
	"pendulum/internal/engine"
	"pendulum/internal/models"
	"pendulum/internal/performance"
	"pendulum/internal/risk"
	"pendulum/internal/strategy"
)

// Markets needed for this tick come from the scanner; books from the
// CLOB reader; candles from the Binance feed. Interfaces here keep the
// loop testable against fakes.
type MarketSource interface {
	ScanOnce(ctx context.Context) ([]models.Market, error)
	AllMarkets() []models.Market
	Drop(marketID string)
}

type BookSource interface {
	GetBothBooks(ctx context.Context, upTokenID, downTokenID string) (models.OrderBook, models.OrderBook, error)
}

type PriceSource interface {
	PriceHistory() []float64
}

// Notifier is the outbound event surface. Calls never block the tick.
type Notifier interface {
	NotifyTrade(trade *models.Trade, question string)
	NotifyResolution(trade *models.Trade, question string)
	NotifyCircuitBreaker(reason string)
	NotifyDailySummary(snap models.PortfolioSnapshot, prevBalance *float64)
	NotifyError(message string)
}

// A directional signal needs at least this many closed candles.
const minPriceHistory = 3

// Bot orchestrates one sequential tick at a time. Pause, resume and
// topup are the only mutators reachable from outside the tick; they
// are mutex-guarded so the Telegram loop can call them safely.
type Bot struct {
	scanner    MarketSource
	books      BookSource
	feed       PriceSource
	strategies []strategy.Strategy
	engine     engine.ExecutionEngine
	portfolio  *risk.Portfolio
	breaker    *risk.CircuitBreaker
	repo       db.Repository
	notifier   Notifier
	tracker    *performance.Tracker
	cfg        *config.Config

	mu          sync.Mutex
	paused      bool
	pauseReason string

	bookFailures map[string]int // consecutive per-market orderbook failures
}

func New(
	scanner MarketSource,
	books BookSource,
	feed PriceSource,
	strategies []strategy.Strategy,
	eng engine.ExecutionEngine,
	portfolio *risk.Portfolio,
	breaker *risk.CircuitBreaker,
	repo db.Repository,
	notifier Notifier,
	tracker *performance.Tracker,
	cfg *config.Config,
) *Bot {
	return &Bot{
		scanner:      scanner,
		books:        books,
		feed:         feed,
		strategies:   strategies,
		engine:       eng,
		portfolio:    portfolio,
		breaker:      breaker,
		repo:         repo,
		notifier:     notifier,
		tracker:      tracker,
		cfg:          cfg,
		bookFailures: make(map[string]int),
	}
}

// Pause halts new-trade entry. Resolutions keep processing.
func (b *Bot) Pause(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	b.pauseReason = reason
	slog.Warn("trading paused", "reason", reason)
}

func (b *Bot) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.pauseReason = ""
	slog.Info("trading resumed")
}

func (b *Bot) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *Bot) PauseReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pauseReason
}

// Topup injects cash into both ledgers.
func (b *Bot) Topup(amount float64) (float64, error) {
	balance, err := b.portfolio.Topup(amount)
	if err != nil {
		return balance, err
	}
	b.engine.Topup(amount)
	return balance, nil
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"scan_interval", b.cfg.Schedule.ScanInterval.Duration,
		"performance_interval", b.cfg.Schedule.PerformanceInterval.Duration,
	)

	go b.dailySummaryLoop(ctx)

	b.runTick(ctx)

	scanTicker := time.NewTicker(b.cfg.Schedule.ScanInterval.Duration)
	perfTicker := time.NewTicker(b.cfg.Schedule.PerformanceInterval.Duration)
	defer scanTicker.Stop()
	defer perfTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down")
			return ctx.Err()
		case <-scanTicker.C:
			b.runTick(ctx)
		case <-perfTicker.C:
			b.runPerformanceReport()
		}
	}
}

// runTick wraps Tick so a bad tick never kills the loop.
func (b *Bot) runTick(ctx context.Context) {
	if err := b.Tick(ctx); err != nil {
		slog.Error("tick failed", "error", err)
		b.notifier.NotifyError("Tick failed, check logs")
	}
}

// Tick runs one full cycle. Resolutions always process before the
// breaker check, and the breaker before any new trade, so a trip can
// be caused by this tick's resolutions but never by its trades.
func (b *Bot) Tick(ctx context.Context) error {
	b.touchHealthFile()

	if _, err := b.scanner.ScanOnce(ctx); err != nil {
		return fmt.Errorf("scanning markets: %w", err)
	}
	markets := b.scanner.AllMarkets()
	if len(markets) == 0 {
		slog.Debug("no 5m btc markets found")
		return nil
	}

	b.checkResolutions(markets)

	if !b.IsPaused() {
		reason, err := b.breaker.Check(b.portfolio)
		if err != nil {
			return fmt.Errorf("circuit breaker check: %w", err)
		}
		if reason != "" {
			b.Pause(reason)
			b.notifier.NotifyCircuitBreaker(reason)
			if err := b.portfolio.SaveSnapshot(); err != nil {
				slog.Error("snapshot after breaker trip failed", "error", err)
			}
			return nil
		}
	}

	if b.IsPaused() {
		return nil
	}

	history := b.feed.PriceHistory()
	if len(history) < minPriceHistory {
		slog.Debug("waiting for price history", "have", len(history), "need", minPriceHistory)
		return nil
	}

	for _, m := range markets {
		if m.Status != models.MarketActive {
			continue
		}
		b.evaluateMarket(ctx, m, history)
	}

	if err := b.portfolio.SaveSnapshot(); err != nil {
		slog.Error("end-of-tick snapshot failed", "error", err)
	}
	return nil
}

// checkResolutions settles open trades on markets the scanner has seen
// resolve. Runs even while paused. Each trade settles exactly once:
// the portfolio marks it resolved in the store, so it leaves the
// open-trades query before the next tick.
func (b *Bot) checkResolutions(markets []models.Market) {
	for _, m := range markets {
		if m.Status != models.MarketResolved {
			continue
		}

		openTrades, err := b.repo.GetOpenTradesForMarket(m.MarketID)
		if err != nil {
			slog.Error("loading open trades failed", "market", m.Slug, "error", err)
			continue
		}
		if len(openTrades) == 0 {
			continue
		}

		res := b.engine.CheckResolution(m)
		if res == nil {
			continue
		}

		for i := range openTrades {
			trade := &openTrades[i]
			pnl, err := b.portfolio.HandleResolution(trade, *res)
			if err != nil {
				slog.Error("resolution handling failed", "trade", trade.TradeID, "error", err)
				continue
			}
			b.engine.CreditResolutionPayout(pnl + trade.Amount + trade.Fee)
			b.notifier.NotifyResolution(trade, m.Question)
		}

		if err := b.repo.SaveMarket(m); err != nil {
			slog.Error("saving resolved market failed", "market", m.Slug, "error", err)
		}
	}
}

// evaluateMarket runs the strategy list against one active market and
// opens at most one trade. The first strategy producing an executable
// signal wins; an execution failure does not fall through to the next
// strategy.
func (b *Bot) evaluateMarket(ctx context.Context, m models.Market, history []float64) {
	openTrades, err := b.repo.GetOpenTradesForMarket(m.MarketID)
	if err != nil {
		slog.Error("loading open trades failed", "market", m.Slug, "error", err)
		return
	}
	if len(openTrades) > 0 {
		return
	}

	upBook, downBook, err := b.books.GetBothBooks(ctx, m.UpTokenID, m.DownTokenID)
	if err != nil {
		b.bookFailures[m.MarketID]++
		failures := b.bookFailures[m.MarketID]
		if failures >= 3 {
			slog.Warn("evicting market after repeated orderbook failures", "market", m.Slug)
			b.scanner.Drop(m.MarketID)
			delete(b.bookFailures, m.MarketID)
		} else {
			slog.Warn("orderbook fetch failed", "market", m.Slug, "failures", failures, "error", err)
		}
		return
	}
	delete(b.bookFailures, m.MarketID)

	for _, strat := range b.strategies {
		sig, err := strat.Evaluate(ctx, m, upBook, downBook, history)
		if err != nil {
			slog.Error("strategy evaluation failed", "strategy", strat.Name(), "market", m.Slug, "error", err)
			continue
		}
		if sig.Type == models.SignalSkip {
			continue
		}
		if sig.Confidence < b.cfg.Trading.ConfidenceThreshold {
			slog.Info("signal below confidence threshold",
				"strategy", strat.Name(),
				"market", m.Slug,
				"confidence", sig.Confidence,
				"threshold", b.cfg.Trading.ConfidenceThreshold,
			)
			continue
		}

		book := upBook
		if sig.Type == models.SignalBuyDown {
			book = downBook
		}

		trade, err := b.engine.ExecuteOrder(ctx, m, sig, book)
		if err != nil {
			slog.Error("order execution failed", "market", m.Slug, "strategy", strat.Name(), "error", err)
			return
		}
		if trade == nil {
			slog.Warn("signal produced no trade",
				"market", m.Slug,
				"strategy", strat.Name(),
				"signal", sig.Type,
				"confidence", sig.Confidence,
			)
			return
		}

		if err := b.portfolio.RecordTrade(trade); err != nil {
			slog.Error("recording trade failed", "trade", trade.TradeID, "error", err)
			return
		}
		if err := b.repo.SaveMarket(m); err != nil {
			slog.Error("saving market failed", "market", m.Slug, "error", err)
		}
		b.notifier.NotifyTrade(trade, m.Question)
		slog.Info("trade opened",
			"market", m.Slug,
			"signal", sig.Type,
			"price", trade.Price,
			"amount", trade.Amount,
		)
		return
	}
}

func (b *Bot) runPerformanceReport() {
	report, err := b.tracker.Generate()
	if err != nil {
		slog.Error("performance report failed", "error", err)
		return
	}
	performance.LogReport(report)
}

// dailySummaryLoop sends the daily report at KST midnight (15:00 UTC).
func (b *Bot) dailySummaryLoop(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 15, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}

		if err := b.portfolio.SaveSnapshot(); err != nil {
			slog.Error("daily snapshot failed", "error", err)
			continue
		}
		snap, err := b.repo.LatestSnapshot()
		if err != nil || snap == nil {
			slog.Error("daily summary snapshot unavailable", "error", err)
			continue
		}
		b.notifier.NotifyDailySummary(*snap, b.balanceDayAgo())
	}
}

// balanceDayAgo finds a snapshot at least 24h old for the day-over-day
// delta, or nil when history is too short.
func (b *Bot) balanceDayAgo() *float64 {
	snaps, err := b.repo.GetSnapshots(50)
	if err != nil {
		slog.Error("loading snapshots failed", "error", err)
		return nil
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, s := range snaps {
		if s.Timestamp.Before(cutoff) {
			balance := s.Balance
			return &balance
		}
	}
	return nil
}

// touchHealthFile stamps the health path so external watchdogs can see
// the loop is alive.
func (b *Bot) touchHealthFile() {
	path := b.cfg.General.HealthPath
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Debug("health dir create failed", "error", err)
		return
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(path, []byte(stamp), 0o644); err != nil {
		slog.Debug("health file write failed", "error", err)
	}
}
