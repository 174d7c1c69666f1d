package performance

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"pendulum/internal/db"
	"pendulum/internal/models"
)

func openTestDB(t *testing.T) (*sql.DB, *db.Store) {
	t.Helper()
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := db.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return conn, db.NewStore(conn)
}

func TestGenerate_EmptyDatabase(t *testing.T) {
	conn, _ := openTestDB(t)
	r, err := NewTracker(conn).Generate()
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalTrades != 0 || r.TotalPnL != 0 || r.WinRate != 0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestGenerate_RollsUpTrades(t *testing.T) {
	conn, store := openTestDB(t)

	win, loss := 7.99, -10.10
	trades := []models.Trade{
		{TradeID: "t1", MarketID: "m1", Direction: models.DirectionUp, Amount: 10,
			Price: 0.55, Fee: 0.10, SignalType: models.SignalBuyUp,
			Timestamp: time.Now().UTC(), PnL: &win, Resolved: true},
		{TradeID: "t2", MarketID: "m2", Direction: models.DirectionUp, Amount: 10,
			Price: 0.60, Fee: 0.10, SignalType: models.SignalBuyUp,
			Timestamp: time.Now().UTC(), PnL: &loss, Resolved: true},
		{TradeID: "t3", MarketID: "m3", Direction: models.DirectionUp, Amount: 20,
			Price: 0.40, Fee: 0.20, SignalType: models.SignalArbitrageBuy,
			Timestamp: time.Now().UTC()},
	}
	for _, tr := range trades {
		if err := store.SaveTrade(tr); err != nil {
			t.Fatal(err)
		}
	}

	r, err := NewTracker(conn).Generate()
	if err != nil {
		t.Fatal(err)
	}

	if r.TotalTrades != 3 || r.ResolvedTrades != 2 {
		t.Errorf("counts = %d/%d, want 3/2", r.TotalTrades, r.ResolvedTrades)
	}
	// Wagered includes fees: 10.10 + 10.10 + 20.20.
	if math.Abs(r.TotalWagered-40.40) > 1e-9 {
		t.Errorf("wagered = %f, want 40.40", r.TotalWagered)
	}
	if math.Abs(r.TotalPnL-(-2.11)) > 1e-9 {
		t.Errorf("pnl = %f, want -2.11", r.TotalPnL)
	}
	if math.Abs(r.WinRate-0.5) > 1e-9 {
		t.Errorf("win rate = %f, want 0.5", r.WinRate)
	}

	buyUp, ok := r.SignalStats[string(models.SignalBuyUp)]
	if !ok {
		t.Fatal("missing BUY_UP stats")
	}
	if buyUp.TradeCount != 2 || math.Abs(buyUp.PnL-(-2.11)) > 1e-9 {
		t.Errorf("BUY_UP stats = %+v", buyUp)
	}
	arb, ok := r.SignalStats[string(models.SignalArbitrageBuy)]
	if !ok {
		t.Fatal("missing ARBITRAGE_BUY stats")
	}
	if arb.TradeCount != 1 || arb.WinRate != 0 {
		t.Errorf("ARBITRAGE_BUY stats = %+v", arb)
	}
}

func TestGenerate_DrawdownFromSnapshotPath(t *testing.T) {
	conn, store := openTestDB(t)

	// Balance path 1000 -> 1100 -> 880 -> 990: worst dip is 20% off
	// the 1100 peak.
	base := time.Now().UTC().Add(-time.Hour)
	for i, balance := range []float64{1000, 1100, 880, 990} {
		snap := models.PortfolioSnapshot{
			Balance:   balance,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveSnapshot(snap); err != nil {
			t.Fatal(err)
		}
	}

	r, err := NewTracker(conn).Generate()
	if err != nil {
		t.Fatal(err)
	}
	if r.PeakBalance != 1100 {
		t.Errorf("peak = %f, want 1100", r.PeakBalance)
	}
	if math.Abs(r.MaxDrawdown-0.2) > 1e-9 {
		t.Errorf("max drawdown = %f, want 0.2", r.MaxDrawdown)
	}
}
