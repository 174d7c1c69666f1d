package notify

import (
	"strings"
	"testing"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/db"
	"pendulum/internal/models"
)

func openTestRepo(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return db.NewStore(conn)
}

type fakeController struct {
	paused  bool
	reason  string
	balance float64
}

func (f *fakeController) Pause(reason string)  { f.paused, f.reason = true, reason }
func (f *fakeController) Resume()              { f.paused, f.reason = false, "" }
func (f *fakeController) IsPaused() bool       { return f.paused }
func (f *fakeController) PauseReason() string  { return f.reason }
func (f *fakeController) Topup(amount float64) (float64, error) {
	f.balance += amount
	return f.balance, nil
}

func newTestLoop(t *testing.T, repo *db.Store, ctrl *fakeController) *CommandLoop {
	t.Helper()
	n, err := NewNotifier(config.TelegramConfig{}) // disabled
	if err != nil {
		t.Fatal(err)
	}
	return NewCommandLoop(n, repo, ctrl, "paper", 1000)
}

func TestDisabledNotifierIsNoOp(t *testing.T) {
	n, err := NewNotifier(config.TelegramConfig{Enabled: true}) // no credentials
	if err != nil {
		t.Fatal(err)
	}
	if n.enabled {
		t.Fatal("notifier without credentials must be disabled")
	}
	// Must not panic with a nil bot.
	n.NotifyStartup("paper", 1000, 10)
	n.NotifyError("boom")
}

func TestFormatEnsembleReason(t *testing.T) {
	reason := "2/3 Up | directional: UP (0.72) | imbalance: UP (0.65) | momentum: SKIP"
	got := formatEnsembleReason(reason)

	if !strings.Contains(got, "Consensus: 2/3 Up") {
		t.Errorf("missing consensus line: %q", got)
	}
	if !strings.Contains(got, "✅ directional: UP (0.72)") {
		t.Errorf("voting member not checked: %q", got)
	}
	if !strings.Contains(got, "❌ momentum: SKIP") {
		t.Errorf("skipping member not crossed: %q", got)
	}

	// Non-ensemble reasons produce no breakdown.
	if got := formatEnsembleReason("momentum=0.0100 ema_diff=0.5000"); got != "" {
		t.Errorf("unexpected breakdown: %q", got)
	}
}

func TestStatusText(t *testing.T) {
	repo := openTestRepo(t)
	ctrl := &fakeController{}
	loop := newTestLoop(t, repo, ctrl)

	if got := loop.statusText(); got != "No portfolio data yet." {
		t.Errorf("empty store: %q", got)
	}

	err := repo.SaveSnapshot(models.PortfolioSnapshot{
		Balance: 1079.90, TotalTrades: 12, Wins: 7, Losses: 3,
		TotalPnL: 79.90, MaxDrawdown: 0.08, Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	got := loop.statusText()
	for _, want := range []string{"$1079.90", "+8.0%", "12 (7W / 3L)", "70.0%", "$+79.90", "8.0%"} {
		if !strings.Contains(got, want) {
			t.Errorf("status %q missing %q", got, want)
		}
	}
	if strings.Contains(got, "paused") {
		t.Errorf("running bot reported paused: %q", got)
	}

	ctrl.Pause("max drawdown 25.0% breached limit 20.0%")
	got = loop.statusText()
	if !strings.Contains(got, "Trading paused") || !strings.Contains(got, "25.0%") {
		t.Errorf("paused status = %q", got)
	}
}

func TestHistoryText(t *testing.T) {
	repo := openTestRepo(t)
	loop := newTestLoop(t, repo, &fakeController{})

	if got := loop.historyText(5); got != "No trades yet." {
		t.Errorf("empty store: %q", got)
	}

	pnl := 7.99
	trades := []models.Trade{
		{TradeID: "t1", MarketID: "m1", Direction: models.DirectionUp, Amount: 10,
			Price: 0.5528, Fee: 0.10, SignalType: models.SignalBuyUp,
			Timestamp: time.Now().UTC().Add(-time.Hour), PnL: &pnl, Resolved: true},
		{TradeID: "t2", MarketID: "m2", Direction: models.DirectionDown, Amount: 10,
			Price: 0.4500, Fee: 0.10, SignalType: models.SignalBuyDown,
			Timestamp: time.Now().UTC()},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(tr); err != nil {
			t.Fatal(err)
		}
	}

	got := loop.historyText(5)
	if !strings.Contains(got, "$+7.99") {
		t.Errorf("resolved pnl missing: %q", got)
	}
	if !strings.Contains(got, "open") {
		t.Errorf("open trade not marked: %q", got)
	}
	// Newest first: the open Down trade leads.
	downIdx := strings.Index(got, "Down")
	upIdx := strings.Index(got, "Up")
	if downIdx == -1 || upIdx == -1 || downIdx > upIdx {
		t.Errorf("ordering wrong: %q", got)
	}
}

func TestPnLText(t *testing.T) {
	repo := openTestRepo(t)
	loop := newTestLoop(t, repo, &fakeController{})

	win, loss := 7.99, -10.10
	trades := []models.Trade{
		{TradeID: "t1", MarketID: "m1", Direction: models.DirectionUp, Amount: 10,
			Price: 0.55, Fee: 0.10, SignalType: models.SignalBuyUp,
			Timestamp: time.Now().UTC().Add(-time.Hour), PnL: &win, Resolved: true},
		{TradeID: "t2", MarketID: "m2", Direction: models.DirectionUp, Amount: 10,
			Price: 0.55, Fee: 0.10, SignalType: models.SignalBuyUp,
			Timestamp: time.Now().UTC().AddDate(0, 0, -10), PnL: &loss, Resolved: true},
	}
	for _, tr := range trades {
		if err := repo.SaveTrade(tr); err != nil {
			t.Fatal(err)
		}
	}

	all := loop.pnlText("all")
	if !strings.Contains(all, "$-2.11") || !strings.Contains(all, "2 (1W / 1L)") {
		t.Errorf("all: %q", all)
	}

	week := loop.pnlText("7d")
	if !strings.Contains(week, "$+7.99") || !strings.Contains(week, "1 (1W / 0L)") {
		t.Errorf("7d: %q", week)
	}

	if got := loop.pnlText("bogus"); !strings.Contains(got, "Unknown period") {
		t.Errorf("bogus period: %q", got)
	}
}

func TestTopupCommand(t *testing.T) {
	repo := openTestRepo(t)
	ctrl := &fakeController{balance: 1000}
	loop := newTestLoop(t, repo, ctrl)

	if got := loop.topup(nil); !strings.Contains(got, "Usage") {
		t.Errorf("no args: %q", got)
	}
	if got := loop.topup([]string{"-5"}); !strings.Contains(got, "positive") {
		t.Errorf("negative: %q", got)
	}
	got := loop.topup([]string{"250"})
	if !strings.Contains(got, "$250.00") || !strings.Contains(got, "$1250.00") {
		t.Errorf("topup: %q", got)
	}
	if ctrl.balance != 1250 {
		t.Errorf("controller balance = %f", ctrl.balance)
	}
}
