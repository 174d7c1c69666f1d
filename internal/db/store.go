package db

import (
	"database/sql"
	"fmt"
	"time"

	"pendulum/internal/models"
)

// Repository is the persistence contract the trading core depends on.
// Store is the SQLite implementation; tests substitute fakes.
type Repository interface {
	SaveTrade(trade models.Trade) error
	UpdateTradeResolution(tradeID string, pnl float64) error
	GetTrades(limit int) ([]models.Trade, error)
	GetResolvedTrades() ([]models.Trade, error)
	GetTradesSince(since time.Time) ([]models.Trade, error)
	GetOpenTrades() ([]models.Trade, error)
	GetOpenTradesForMarket(marketID string) ([]models.Trade, error)
	SaveMarket(market models.Market) error
	GetMarket(marketID string) (*models.Market, error)
	SaveSnapshot(snap models.PortfolioSnapshot) error
	LatestSnapshot() (*models.PortfolioSnapshot, error)
	GetSnapshots(limit int) ([]models.PortfolioSnapshot, error)
}

// Store persists trades, markets and portfolio snapshots to SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// timeLayout is RFC 3339 with a fixed-width fraction. RFC3339Nano
// trims trailing zeros, which breaks the lexicographic timestamp
// comparisons in GetTradesSince and ORDER BY. Writes use the fixed
// width; reads stay on the lenient RFC3339Nano parser.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const tradeColumns = `trade_id, market_id, direction, token_id, amount, price, fee,
	signal_type, pnl, resolved, timestamp, alt_price, reason`

// SaveTrade inserts a trade, or replaces it when the trade ID already
// exists (re-saving after resolution is harmless).
func (s *Store) SaveTrade(t models.Trade) error {
	var pnl any
	if t.PnL != nil {
		pnl = *t.PnL
	}
	var altPrice any
	if t.AltPrice != 0 {
		altPrice = t.AltPrice
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.MarketID, string(t.Direction), t.TokenID, t.Amount, t.Price, t.Fee,
		string(t.SignalType), pnl, boolToInt(t.Resolved), t.Timestamp.UTC().Format(timeLayout),
		altPrice, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting trade: %w", err)
	}
	return nil
}

// UpdateTradeResolution stamps a trade as resolved with its final PnL.
func (s *Store) UpdateTradeResolution(tradeID string, pnl float64) error {
	res, err := s.db.Exec(`UPDATE trades SET pnl = ?, resolved = 1 WHERE trade_id = ?`, pnl, tradeID)
	if err != nil {
		return fmt.Errorf("updating trade resolution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("trade %s not found", tradeID)
	}
	return nil
}

// GetTrades returns the most recent trades, newest first. A limit of
// zero or less returns everything.
func (s *Store) GetTrades(limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTrades(`SELECT `+tradeColumns+` FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
}

// GetResolvedTrades returns every resolved trade, oldest first.
func (s *Store) GetResolvedTrades() ([]models.Trade, error) {
	return s.queryTrades(`SELECT ` + tradeColumns + ` FROM trades WHERE resolved = 1 ORDER BY timestamp ASC`)
}

// GetTradesSince returns trades at or after the given instant, oldest first.
func (s *Store) GetTradesSince(since time.Time) ([]models.Trade, error) {
	return s.queryTrades(
		`SELECT `+tradeColumns+` FROM trades WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UTC().Format(timeLayout),
	)
}

// GetOpenTrades returns every unresolved trade.
func (s *Store) GetOpenTrades() ([]models.Trade, error) {
	return s.queryTrades(`SELECT ` + tradeColumns + ` FROM trades WHERE resolved = 0 ORDER BY timestamp ASC`)
}

// GetOpenTradesForMarket returns unresolved trades on one market.
func (s *Store) GetOpenTradesForMarket(marketID string) ([]models.Trade, error) {
	return s.queryTrades(
		`SELECT `+tradeColumns+` FROM trades WHERE resolved = 0 AND market_id = ?`, marketID)
}

func (s *Store) queryTrades(query string, args ...any) ([]models.Trade, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanTrade(rows *sql.Rows) (models.Trade, error) {
	var t models.Trade
	var direction, signalType, ts string
	var pnl, altPrice sql.NullFloat64
	var resolved int

	err := rows.Scan(&t.TradeID, &t.MarketID, &direction, &t.TokenID, &t.Amount, &t.Price,
		&t.Fee, &signalType, &pnl, &resolved, &ts, &altPrice, &t.Reason)
	if err != nil {
		return t, fmt.Errorf("scanning trade row: %w", err)
	}

	t.Direction = models.Direction(direction)
	t.SignalType = models.SignalType(signalType)
	t.Resolved = resolved != 0
	if pnl.Valid {
		v := pnl.Float64
		t.PnL = &v
	}
	if altPrice.Valid {
		t.AltPrice = altPrice.Float64
	}
	t.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return t, fmt.Errorf("parsing trade timestamp: %w", err)
	}
	return t, nil
}

// SaveMarket upserts a market record.
func (s *Store) SaveMarket(m models.Market) error {
	var resolution any
	if m.Resolution != "" {
		resolution = string(m.Resolution)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO markets
		(market_id, slug, question, status, up_token_id, down_token_id, end_time, up_price, down_price, resolution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MarketID, m.Slug, m.Question, string(m.Status), m.UpTokenID, m.DownTokenID,
		m.EndTime.UTC().Format(timeLayout), m.UpPrice, m.DownPrice, resolution,
	)
	if err != nil {
		return fmt.Errorf("saving market: %w", err)
	}
	return nil
}

// GetMarket returns a market by ID, or nil when unknown.
func (s *Store) GetMarket(marketID string) (*models.Market, error) {
	row := s.db.QueryRow(`
		SELECT market_id, slug, question, status, up_token_id, down_token_id, end_time, up_price, down_price, resolution
		FROM markets WHERE market_id = ?`, marketID)

	var m models.Market
	var status, endTime string
	var resolution sql.NullString
	err := row.Scan(&m.MarketID, &m.Slug, &m.Question, &status, &m.UpTokenID, &m.DownTokenID,
		&endTime, &m.UpPrice, &m.DownPrice, &resolution)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying market: %w", err)
	}

	m.Status = models.MarketStatus(status)
	if resolution.Valid {
		m.Resolution = models.Outcome(resolution.String)
	}
	m.EndTime, err = time.Parse(time.RFC3339Nano, endTime)
	if err != nil {
		return nil, fmt.Errorf("parsing market end time: %w", err)
	}
	return &m, nil
}

// SaveSnapshot appends a portfolio snapshot.
func (s *Store) SaveSnapshot(snap models.PortfolioSnapshot) error {
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO portfolio_snapshots (balance, total_trades, wins, losses, total_pnl, max_drawdown, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Balance, snap.TotalTrades, snap.Wins, snap.Losses, snap.TotalPnL, snap.MaxDrawdown,
		ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil when none exists.
func (s *Store) LatestSnapshot() (*models.PortfolioSnapshot, error) {
	snaps, err := s.GetSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// GetSnapshots returns the most recent snapshots, newest first.
func (s *Store) GetSnapshots(limit int) ([]models.PortfolioSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT balance, total_trades, wins, losses, total_pnl, max_drawdown, timestamp
		FROM portfolio_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.PortfolioSnapshot
	for rows.Next() {
		var snap models.PortfolioSnapshot
		var ts string
		if err := rows.Scan(&snap.Balance, &snap.TotalTrades, &snap.Wins, &snap.Losses,
			&snap.TotalPnL, &snap.MaxDrawdown, &ts); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		snap.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot timestamp: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
