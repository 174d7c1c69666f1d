package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/db"
	"pendulum/internal/engine"
	"pendulum/internal/models"
	"pendulum/internal/performance"
	"pendulum/internal/risk"
	"pendulum/internal/strategy"
)

type fakeScanner struct {
	markets []models.Market
	dropped []string
	scanErr error
}

func (f *fakeScanner) ScanOnce(context.Context) ([]models.Market, error) {
	return f.markets, f.scanErr
}

func (f *fakeScanner) AllMarkets() []models.Market {
	out := make([]models.Market, len(f.markets))
	copy(out, f.markets)
	return out
}

func (f *fakeScanner) Drop(marketID string) {
	f.dropped = append(f.dropped, marketID)
	kept := f.markets[:0]
	for _, m := range f.markets {
		if m.MarketID != marketID {
			kept = append(kept, m)
		}
	}
	f.markets = kept
}

type fakeBooks struct {
	up, down models.OrderBook
	err      error
	calls    int
}

func (f *fakeBooks) GetBothBooks(_ context.Context, _, _ string) (models.OrderBook, models.OrderBook, error) {
	f.calls++
	if f.err != nil {
		return models.OrderBook{}, models.OrderBook{}, f.err
	}
	return f.up, f.down, nil
}

type fakeFeed struct {
	history []float64
}

func (f *fakeFeed) PriceHistory() []float64 { return f.history }

type fakeNotifier struct {
	trades      []models.Trade
	resolutions []models.Trade
	breakers    []string
	errs        []string
}

func (f *fakeNotifier) NotifyTrade(t *models.Trade, _ string)      { f.trades = append(f.trades, *t) }
func (f *fakeNotifier) NotifyResolution(t *models.Trade, _ string) { f.resolutions = append(f.resolutions, *t) }
func (f *fakeNotifier) NotifyCircuitBreaker(reason string)         { f.breakers = append(f.breakers, reason) }
func (f *fakeNotifier) NotifyDailySummary(models.PortfolioSnapshot, *float64) {}
func (f *fakeNotifier) NotifyError(msg string)                     { f.errs = append(f.errs, msg) }

type fixedStrategy struct {
	name string
	sig  models.Signal
	err  error
}

func (s fixedStrategy) Name() string { return s.name }

func (s fixedStrategy) Evaluate(context.Context, models.Market, models.OrderBook, models.OrderBook, []float64) (models.Signal, error) {
	return s.sig, s.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.General.HealthPath = ""
	cfg.Trading.InitialCapital = 1000
	cfg.Trading.BetSize = 10
	cfg.Trading.ConfidenceThreshold = 0.6
	return cfg
}

func activeMarket(id string) models.Market {
	return models.Market{
		MarketID:    id,
		Slug:        "btc-updown-5m-1756700100",
		Question:    "Bitcoin Up or Down?",
		Status:      models.MarketActive,
		UpTokenID:   "111",
		DownTokenID: "222",
		EndTime:     time.Now().Add(5 * time.Minute),
	}
}

func bookWithAsk(token string, ask float64) models.OrderBook {
	return models.OrderBook{
		TokenID: token,
		Bids:    []models.OrderBookLevel{{Price: ask - 0.02, Size: 100}},
		Asks:    []models.OrderBookLevel{{Price: ask, Size: 100}},
	}
}

type botFixture struct {
	bot      *Bot
	scanner  *fakeScanner
	books    *fakeBooks
	notifier *fakeNotifier
	eng      *engine.PaperEngine
	repo     db.Repository
}

func newBotFixture(t *testing.T, strategies []strategy.Strategy) *botFixture {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrating db: %v", err)
	}
	repo := db.NewStore(conn)

	cfg := testConfig()
	eng := engine.NewPaperEngine(cfg.Trading)
	portfolio := risk.NewPortfolio(repo, cfg.Trading.InitialCapital)
	breaker := risk.NewCircuitBreaker(repo, cfg.Risk)
	tracker := performance.NewTracker(conn)

	scanner := &fakeScanner{}
	books := &fakeBooks{
		up:   bookWithAsk("111", 0.55),
		down: bookWithAsk("222", 0.47),
	}
	notifier := &fakeNotifier{}

	bot := New(scanner, books, &fakeFeed{history: []float64{100, 101, 102, 103}},
		strategies, eng, portfolio, breaker, repo, notifier, tracker, cfg)

	return &botFixture{bot: bot, scanner: scanner, books: books, notifier: notifier, eng: eng, repo: repo}
}

func buyUp(conf float64) []strategy.Strategy {
	return []strategy.Strategy{fixedStrategy{
		name: "test",
		sig:  models.Signal{Type: models.SignalBuyUp, Confidence: conf, Reason: "test"},
	}}
}

func TestTick_OpensTradeOnSignal(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(fx.notifier.trades) != 1 {
		t.Fatalf("trades notified = %d, want 1", len(fx.notifier.trades))
	}
	open, err := fx.repo.GetOpenTradesForMarket("m1")
	if err != nil {
		t.Fatalf("loading open trades: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open trades = %d, want 1", len(open))
	}
	if fx.eng.Balance() >= 1000 {
		t.Errorf("engine balance = %v, want debited below 1000", fx.eng.Balance())
	}

	// The market was persisted and a snapshot landed.
	if m, err := fx.repo.GetMarket("m1"); err != nil || m == nil {
		t.Errorf("market not persisted: %v", err)
	}
	if snap, err := fx.repo.LatestSnapshot(); err != nil || snap == nil {
		t.Errorf("no end-of-tick snapshot: %v", err)
	}
}

func TestTick_OneTradePerMarket(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	ctx := context.Background()
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	open, _ := fx.repo.GetOpenTradesForMarket("m1")
	if len(open) != 1 {
		t.Errorf("open trades after two ticks = %d, want 1", len(open))
	}
}

func TestTick_ConfidenceGate(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.5))
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(fx.notifier.trades) != 0 {
		t.Errorf("trades notified = %d, want 0 below threshold", len(fx.notifier.trades))
	}
}

func TestTick_PausedSkipsTradesButSettlesResolutions(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	m := activeMarket("m1")
	fx.scanner.markets = []models.Market{m}

	ctx := context.Background()
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("open tick: %v", err)
	}

	fx.bot.Pause("manual")
	if !fx.bot.IsPaused() {
		t.Fatal("expected paused")
	}

	// Market resolves while trading is paused.
	m.Status = models.MarketResolved
	m.Resolution = models.OutcomeUp
	m2 := activeMarket("m2")
	fx.scanner.markets = []models.Market{m, m2}

	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("paused tick: %v", err)
	}

	if len(fx.notifier.resolutions) != 1 {
		t.Errorf("resolutions notified = %d, want 1 while paused", len(fx.notifier.resolutions))
	}
	if open, _ := fx.repo.GetOpenTradesForMarket("m2"); len(open) != 0 {
		t.Errorf("paused bot opened a trade on m2")
	}

	fx.bot.Resume()
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("resumed tick: %v", err)
	}
	if open, _ := fx.repo.GetOpenTradesForMarket("m2"); len(open) != 1 {
		t.Errorf("resumed bot did not trade on m2")
	}
}

func TestTick_ResolutionSettlesOnce(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	m := activeMarket("m1")
	fx.scanner.markets = []models.Market{m}

	ctx := context.Background()
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("open tick: %v", err)
	}

	m.Status = models.MarketResolved
	m.Resolution = models.OutcomeUp
	fx.scanner.markets = []models.Market{m}

	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("resolve tick: %v", err)
	}
	balanceAfter := fx.eng.Balance()

	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("repeat tick: %v", err)
	}

	if len(fx.notifier.resolutions) != 1 {
		t.Errorf("resolutions notified = %d, want exactly 1", len(fx.notifier.resolutions))
	}
	if fx.eng.Balance() != balanceAfter {
		t.Errorf("balance changed on repeat settlement: %v -> %v", balanceAfter, fx.eng.Balance())
	}
}

func TestTick_BreakerTripPausesAndNotifies(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	// Force drawdown past the 20% limit before the tick runs.
	losing := models.Trade{
		TradeID:    "seed-loss",
		MarketID:   "m0",
		Direction:  models.DirectionUp,
		TokenID:    "111",
		Amount:     250,
		Price:      0.5,
		Fee:        2.5,
		SignalType: models.SignalBuyUp,
		Timestamp:  time.Now().UTC(),
	}
	if err := fx.bot.portfolio.RecordTrade(&losing); err != nil {
		t.Fatalf("seeding losing trade: %v", err)
	}
	if _, err := fx.bot.portfolio.HandleResolution(&losing, models.Resolution{
		MarketID: "m0", Outcome: models.OutcomeDown,
	}); err != nil {
		t.Fatalf("resolving seed trade: %v", err)
	}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if !fx.bot.IsPaused() {
		t.Fatal("breaker trip should pause trading")
	}
	if len(fx.notifier.breakers) != 1 {
		t.Fatalf("breaker notifications = %d, want 1", len(fx.notifier.breakers))
	}
	if fx.bot.PauseReason() == "" {
		t.Error("pause reason is empty")
	}
	if len(fx.notifier.trades) != 0 {
		t.Errorf("trades opened after breaker trip = %d, want 0", len(fx.notifier.trades))
	}
	if snap, err := fx.repo.LatestSnapshot(); err != nil || snap == nil {
		t.Errorf("no snapshot after breaker trip: %v", err)
	}
}

func TestTick_EvictsMarketAfterBookFailures(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.scanner.markets = []models.Market{activeMarket("m1")}
	fx.books.err = errors.New("clob unavailable")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := fx.bot.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}

	if len(fx.scanner.dropped) != 1 || fx.scanner.dropped[0] != "m1" {
		t.Fatalf("dropped = %v, want [m1]", fx.scanner.dropped)
	}
	if len(fx.bot.bookFailures) != 0 {
		t.Errorf("failure counter not cleared after eviction")
	}
}

func TestTick_BookRecoveryResetsFailureCount(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	ctx := context.Background()
	fx.books.err = errors.New("clob unavailable")
	for i := 0; i < 2; i++ {
		if err := fx.bot.Tick(ctx); err != nil {
			t.Fatalf("failing tick %d: %v", i+1, err)
		}
	}

	fx.books.err = nil
	if err := fx.bot.Tick(ctx); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}

	if len(fx.scanner.dropped) != 0 {
		t.Errorf("market dropped despite recovery: %v", fx.scanner.dropped)
	}
	if len(fx.bot.bookFailures) != 0 {
		t.Errorf("failure counter survived recovery")
	}
}

func TestTick_FirstExecutableSignalWins(t *testing.T) {
	second := fixedStrategy{
		name: "second",
		sig:  models.Signal{Type: models.SignalBuyDown, Confidence: 0.9, Reason: "second"},
	}
	// First strategy signals above the entry price guard, so execution
	// rejects it. The second strategy must not run this tick.
	strategies := []strategy.Strategy{
		fixedStrategy{name: "first", sig: models.Signal{Type: models.SignalBuyUp, Confidence: 0.9, Reason: "first"}},
		second,
	}
	fx := newBotFixture(t, strategies)
	fx.books.up = bookWithAsk("111", 0.85) // above the 0.70 entry cap
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(fx.notifier.trades) != 0 {
		t.Errorf("a later strategy traded after the first signal was attempted")
	}
}

func TestTick_SkipFallsThroughToNextStrategy(t *testing.T) {
	strategies := []strategy.Strategy{
		fixedStrategy{name: "first", sig: models.Signal{Type: models.SignalSkip, Reason: "no edge"}},
		fixedStrategy{name: "second", sig: models.Signal{Type: models.SignalBuyDown, Confidence: 0.9, Reason: "down"}},
	}
	fx := newBotFixture(t, strategies)
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(fx.notifier.trades) != 1 {
		t.Fatalf("trades = %d, want 1 from fallthrough strategy", len(fx.notifier.trades))
	}
	if fx.notifier.trades[0].Direction != models.DirectionDown {
		t.Errorf("direction = %v, want Down from second strategy", fx.notifier.trades[0].Direction)
	}
}

func TestTick_InsufficientPriceHistorySkipsTrading(t *testing.T) {
	fx := newBotFixture(t, buyUp(0.8))
	fx.bot.feed = &fakeFeed{history: []float64{100, 101}}
	fx.scanner.markets = []models.Market{activeMarket("m1")}

	if err := fx.bot.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if fx.books.calls != 0 {
		t.Errorf("books fetched with short history")
	}
	if len(fx.notifier.trades) != 0 {
		t.Errorf("traded with short history")
	}
}

func TestTopup_GrowsBothLedgers(t *testing.T) {
	fx := newBotFixture(t, nil)

	balance, err := fx.bot.Topup(100)
	if err != nil {
		t.Fatalf("topup: %v", err)
	}
	if balance != 1100 {
		t.Errorf("portfolio balance = %v, want 1100", balance)
	}
	if fx.eng.Balance() != 1100 {
		t.Errorf("engine balance = %v, want 1100", fx.eng.Balance())
	}
}
