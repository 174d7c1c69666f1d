package performance

import (
	"log/slog"
)

// LogReport logs the performance report as structured JSON.
func LogReport(r *Report) {
	slog.Info("=== PERFORMANCE REPORT ===",
		"total_trades", r.TotalTrades,
		"resolved_trades", r.ResolvedTrades,
		"wagered", r.TotalWagered,
		"total_pnl", r.TotalPnL,
		"roi", r.ROI,
		"win_rate", r.WinRate,
		"peak_balance", r.PeakBalance,
		"max_drawdown", r.MaxDrawdown,
	)

	for name, stats := range r.SignalStats {
		slog.Info("signal performance",
			"signal_type", name,
			"trades", stats.TradeCount,
			"wagered", stats.Wagered,
			"pnl", stats.PnL,
			"roi", stats.ROI,
			"win_rate", stats.WinRate,
		)
	}
}
