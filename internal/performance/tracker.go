// Package performance computes rollup metrics from the trade and
// snapshot tables. Everything is derived with SQL so the numbers stay
// honest regardless of in-memory state.
package performance

import (
	"database/sql"
	"fmt"
	"math"
)

// Tracker computes performance metrics from the database.
type Tracker struct {
	db *sql.DB
}

func NewTracker(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// Report contains all performance metrics.
type Report struct {
	TotalTrades    int
	ResolvedTrades int
	TotalWagered   float64
	TotalPnL       float64
	ROI            float64
	WinRate        float64
	PeakBalance    float64
	MaxDrawdown    float64
	SignalStats    map[string]SignalStats
}

// SignalStats contains per-signal-type performance.
type SignalStats struct {
	TradeCount int
	Wagered    float64
	PnL        float64
	ROI        float64
	WinRate    float64
}

// Generate computes the full performance report.
func (t *Tracker) Generate() (*Report, error) {
	r := &Report{
		SignalStats: make(map[string]SignalStats),
	}

	if err := t.computeOverall(r); err != nil {
		return nil, fmt.Errorf("computing overall stats: %w", err)
	}
	if err := t.computeSignalStats(r); err != nil {
		return nil, fmt.Errorf("computing signal stats: %w", err)
	}
	if err := t.computeDrawdown(r); err != nil {
		return nil, fmt.Errorf("computing drawdown: %w", err)
	}

	return r, nil
}

func (t *Tracker) computeOverall(r *Report) error {
	row := t.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(amount + fee), 0) FROM trades`)
	if err := row.Scan(&r.TotalTrades, &r.TotalWagered); err != nil {
		return err
	}

	row = t.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(pnl), 0)
		FROM trades WHERE resolved = 1`)
	var resolvedCount int
	var totalPnL float64
	if err := row.Scan(&resolvedCount, &totalPnL); err != nil {
		return err
	}
	r.ResolvedTrades = resolvedCount
	r.TotalPnL = totalPnL

	if r.TotalWagered > 0 {
		r.ROI = r.TotalPnL / r.TotalWagered
	}

	if resolvedCount > 0 {
		row = t.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE resolved = 1 AND pnl > 0`)
		var wins int
		if err := row.Scan(&wins); err != nil {
			return err
		}
		r.WinRate = float64(wins) / float64(resolvedCount)
	}

	return nil
}

func (t *Tracker) computeSignalStats(r *Report) error {
	rows, err := t.db.Query(`
		SELECT signal_type, COUNT(*), COALESCE(SUM(amount + fee), 0),
		       COALESCE(SUM(CASE WHEN resolved = 1 THEN pnl ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN resolved = 1 AND pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN resolved = 1 THEN 1 ELSE 0 END), 0)
		FROM trades GROUP BY signal_type`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var stats SignalStats
		var wins, resolved int
		if err := rows.Scan(&name, &stats.TradeCount, &stats.Wagered, &stats.PnL, &wins, &resolved); err != nil {
			return err
		}
		if stats.Wagered > 0 {
			stats.ROI = stats.PnL / stats.Wagered
		}
		if resolved > 0 {
			stats.WinRate = float64(wins) / float64(resolved)
		}
		r.SignalStats[name] = stats
	}
	return rows.Err()
}

// computeDrawdown walks the snapshot path, which captures dips the
// trade log alone cannot show.
func (t *Tracker) computeDrawdown(r *Report) error {
	rows, err := t.db.Query(`SELECT balance FROM portfolio_snapshots ORDER BY timestamp ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var peak float64
	var maxDD float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return err
		}
		if value > peak {
			peak = value
		}
		if peak > 0 {
			dd := (peak - value) / peak
			maxDD = math.Max(maxDD, dd)
		}
	}
	r.PeakBalance = peak
	r.MaxDrawdown = maxDD
	return rows.Err()
}
