package risk

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"pendulum/internal/config"
	"pendulum/internal/db"
)

// Markets resolve on KST wall-clock slots, so the daily loss window
// follows the same civil day.
var kst = time.FixedZone("KST", 9*60*60)

// CircuitBreaker decides once per tick whether trading should halt.
// Two limits checked in order, first violation wins: session max
// drawdown, then realized losses since KST midnight. It never mutates
// portfolio or engine state; tripping is the orchestrator's job.
type CircuitBreaker struct {
	repo db.Repository
	cfg  config.RiskConfig
}

func NewCircuitBreaker(repo db.Repository, cfg config.RiskConfig) *CircuitBreaker {
	return &CircuitBreaker{repo: repo, cfg: cfg}
}

// Check returns a trip reason, or "" when trading may continue.
func (cb *CircuitBreaker) Check(portfolio *Portfolio) (string, error) {
	drawdown := portfolio.MaxDrawdown()
	if drawdown >= cb.cfg.MaxDrawdownLimit {
		return fmt.Sprintf("max drawdown %.1f%% breached limit %.1f%%",
			drawdown*100, cb.cfg.MaxDrawdownLimit*100), nil
	}

	dailyLoss, err := cb.dailyLoss()
	if err != nil {
		return "", fmt.Errorf("computing daily loss: %w", err)
	}
	if dailyLoss >= cb.cfg.MaxDailyLoss {
		return fmt.Sprintf("daily loss $%.2f breached limit $%.2f",
			dailyLoss, cb.cfg.MaxDailyLoss), nil
	}
	return "", nil
}

// dailyLoss sums the absolute PnL of losing resolved trades opened
// since the current KST midnight.
func (cb *CircuitBreaker) dailyLoss() (float64, error) {
	now := time.Now().In(kst)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, kst)

	trades, err := cb.repo.GetTradesSince(midnight.UTC())
	if err != nil {
		return 0, err
	}

	var loss float64
	for _, t := range trades {
		if !t.Resolved || t.PnL == nil || *t.PnL >= 0 {
			continue
		}
		loss += math.Abs(*t.PnL)
	}
	if loss > 0 {
		slog.Debug("daily loss so far", "loss", loss, "limit", cb.cfg.MaxDailyLoss)
	}
	return loss, nil
}
