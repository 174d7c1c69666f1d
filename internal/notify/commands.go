package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pendulum/internal/db"
	"pendulum/internal/models"
)

const defaultHistoryLimit = 5

// Controller is the slice of the trading bot that operator commands
// may touch: pause state and manual balance injection.
type Controller interface {
	Pause(reason string)
	Resume()
	IsPaused() bool
	PauseReason() string
	Topup(amount float64) (float64, error)
}

// CommandLoop long-polls Telegram updates and answers operator
// commands. Replies are plain language; internal errors are logged,
// never sent as stack traces.
type CommandLoop struct {
	notifier       *Notifier
	repo           db.Repository
	controller     Controller
	mode           string
	initialCapital float64
}

func NewCommandLoop(notifier *Notifier, repo db.Repository, controller Controller, mode string, initialCapital float64) *CommandLoop {
	return &CommandLoop{
		notifier:       notifier,
		repo:           repo,
		controller:     controller,
		mode:           mode,
		initialCapital: initialCapital,
	}
}

// Run polls until ctx is cancelled. No-op when Telegram is disabled.
func (c *CommandLoop) Run(ctx context.Context) {
	if !c.notifier.enabled {
		return
	}

	upd := tgbotapi.NewUpdate(0)
	upd.Timeout = 30
	updates := c.notifier.bot.GetUpdatesChan(upd)
	slog.Info("telegram command loop started")

	for {
		select {
		case <-ctx.Done():
			c.notifier.bot.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.Chat.ID != c.notifier.chatID {
				continue
			}
			c.handle(update.Message)
		}
	}
}

func (c *CommandLoop) handle(msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "status":
		c.notifier.send(c.statusText())
	case "history":
		limit := defaultHistoryLimit
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
				limit = n
			}
		}
		c.notifier.send(c.historyText(limit))
	case "pnl":
		period := "all"
		if len(args) > 0 {
			period = args[0]
		}
		c.notifier.send(c.pnlText(period))
	case "topup":
		c.notifier.send(c.topup(args))
	case "stop":
		c.controller.Pause("manual stop via /stop")
		c.notifier.send("\U0001F6D1 Trading paused. Resume with /resume")
	case "resume":
		c.controller.Resume()
		c.notifier.send("▶ Trading resumed")
	case "help":
		c.notifier.send(helpText)
	default:
		c.notifier.send("Unknown command. Try /help")
	}
}

const helpText = `Commands:
/status - portfolio state
/history [n] - recent trades
/pnl [today|7d|30d|all] - profit by period
/topup <amount> - add funds
/stop - pause new trades
/resume - resume trading
/help - this message`

func (c *CommandLoop) statusText() string {
	snap, err := c.repo.LatestSnapshot()
	if err != nil {
		slog.Error("status query failed", "error", err)
		return "Could not read portfolio state, try again shortly."
	}
	if snap == nil {
		return "No portfolio data yet."
	}

	roi := 0.0
	if c.initialCapital > 0 {
		roi = (snap.Balance - c.initialCapital) / c.initialCapital
	}
	age := time.Since(snap.Timestamp).Round(time.Minute)

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F4CA <b>Portfolio</b> (%s)\n\n", c.mode)
	fmt.Fprintf(&b, "\U0001F4B0 Balance: $%.2f\n", snap.Balance)
	fmt.Fprintf(&b, "\U0001F4C8 ROI: %+.1f%%\n", roi*100)
	fmt.Fprintf(&b, "\U0001F4CA Trades: %d (%dW / %dL)\n", snap.TotalTrades, snap.Wins, snap.Losses)
	fmt.Fprintf(&b, "\U0001F3AF Win rate: %.1f%%\n", snap.WinRate()*100)
	fmt.Fprintf(&b, "\U0001F4C9 Total PnL: $%+.2f\n", snap.TotalPnL)
	fmt.Fprintf(&b, "\U0001F4C9 Max drawdown: %.1f%%\n", snap.MaxDrawdown*100)
	fmt.Fprintf(&b, "⏰ Updated %s ago", age)

	if c.controller.IsPaused() {
		fmt.Fprintf(&b, "\n\n⚠ <b>Trading paused</b>\nReason: %s", c.controller.PauseReason())
	}
	return b.String()
}

func (c *CommandLoop) historyText(limit int) string {
	trades, err := c.repo.GetTrades(limit)
	if err != nil {
		slog.Error("history query failed", "error", err)
		return "Could not read trade history, try again shortly."
	}
	if len(trades) == 0 {
		return "No trades yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F4CB <b>Recent trades</b> (%d)\n", len(trades))
	for i, t := range trades {
		status := "⏳ open"
		if t.PnL != nil {
			icon := "❌"
			if *t.PnL > 0 {
				icon = "✅"
			}
			status = fmt.Sprintf("PnL: $%+.2f %s", *t.PnL, icon)
		}
		fmt.Fprintf(&b, "\n%d. %s | $%.2f @ %.4f\n   %s | %s",
			i+1, t.Direction, t.Amount, t.Price,
			status, t.Timestamp.In(kst).Format("01-02 15:04"))
	}
	return b.String()
}

func (c *CommandLoop) pnlText(period string) string {
	since, label, ok := periodStart(period)
	if !ok {
		return "Unknown period. Use /pnl today, 7d, 30d or all."
	}

	var trades []models.Trade
	var err error
	if since.IsZero() {
		trades, err = c.repo.GetTrades(0)
	} else {
		trades, err = c.repo.GetTradesSince(since)
	}
	if err != nil {
		slog.Error("pnl query failed", "error", err)
		return "Could not read trades, try again shortly."
	}

	var pnl float64
	var wins, losses int
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		pnl += *t.PnL
		if *t.PnL > 0 {
			wins++
		} else {
			losses++
		}
	}
	if wins+losses == 0 {
		return fmt.Sprintf("No resolved trades %s.", label)
	}
	return fmt.Sprintf("\U0001F4C8 <b>PnL %s</b>\n\nNet: $%+.2f\nResolved: %d (%dW / %dL)",
		label, pnl, wins+losses, wins, losses)
}

// periodStart maps a /pnl period argument onto a cutoff time. "today"
// starts at KST midnight; a zero time means no cutoff.
func periodStart(period string) (time.Time, string, bool) {
	now := time.Now()
	switch period {
	case "today":
		kstNow := now.In(kst)
		midnight := time.Date(kstNow.Year(), kstNow.Month(), kstNow.Day(), 0, 0, 0, 0, kst)
		return midnight.UTC(), "today", true
	case "7d":
		return now.AddDate(0, 0, -7).UTC(), "last 7 days", true
	case "30d":
		return now.AddDate(0, 0, -30).UTC(), "last 30 days", true
	case "all":
		return time.Time{}, "overall", true
	default:
		return time.Time{}, "", false
	}
}

func (c *CommandLoop) topup(args []string) string {
	if len(args) == 0 {
		return "Usage: /topup <amount>"
	}
	amount, err := strconv.ParseFloat(args[0], 64)
	if err != nil || amount <= 0 {
		return "Amount must be a positive number."
	}
	balance, err := c.controller.Topup(amount)
	if err != nil {
		slog.Error("topup failed", "error", err)
		return "Topup failed, see bot logs."
	}
	return fmt.Sprintf("\U0001F4B0 Added $%.2f. New balance: $%.2f", amount, balance)
}
