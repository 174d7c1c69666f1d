// Package notify sends operator notifications and serves operator
// commands over Telegram. Delivery is fire-and-forget: a failed send
// is logged and never blocks the tick loop.
package notify

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pendulum/internal/config"
	"pendulum/internal/models"
)

// Market slots run on KST wall clock; timestamps in messages follow it.
var kst = time.FixedZone("KST", 9*60*60)

// Notifier pushes event messages to one Telegram chat. A notifier
// built without credentials is disabled and every call is a no-op.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

func NewNotifier(cfg config.TelegramConfig) (*Notifier, error) {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		slog.Warn("telegram not configured, notifications disabled")
		return &Notifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id: %w", err)
	}

	return &Notifier{bot: bot, chatID: chatID, enabled: true}, nil
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		slog.Error("telegram send failed", "error", err)
	}
}

func (n *Notifier) NotifyStartup(mode string, balance, betSize float64) {
	n.send(fmt.Sprintf(
		"\U0001F7E2 <b>Bot started</b>\nMode: %s\nBalance: $%.2f\nBet size: $%.2f",
		mode, balance, betSize,
	))
}

func (n *Notifier) NotifyTrade(trade *models.Trade, question string) {
	label := question
	if label == "" {
		label = trade.MarketID
	}
	cost := trade.Amount + trade.Fee
	odds := "n/a"
	if trade.Price > 0 {
		odds = fmt.Sprintf("%.2fx", 1/trade.Price)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F3B2 <b>Trade opened</b>\n\U0001F3AF %s\n(%s KST)\n\n",
		label, trade.Timestamp.In(kst).Format("15:04"))

	if breakdown := formatEnsembleReason(trade.Reason); breakdown != "" {
		b.WriteString(breakdown)
	} else {
		fmt.Fprintf(&b, "\U0001F4CA Strategy: %s\n", trade.SignalType)
	}

	fmt.Fprintf(&b, "\n\U0001F4B0 Cost: $%.2f (%s)\n\U0001F4CC Direction: %s @ $%.4f",
		cost, odds, trade.Direction, trade.Price)
	n.send(b.String())
}

// formatEnsembleReason renders an ensemble vote trace, one member per
// line. Returns "" when the reason doesn't carry a trace.
func formatEnsembleReason(reason string) string {
	if !strings.Contains(reason, "|") {
		return ""
	}
	parts := strings.Split(reason, "|")

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F4CA Consensus: %s\n", strings.TrimSpace(parts[0]))
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "SKIP") {
			fmt.Fprintf(&b, "❌ %s\n", part)
		} else {
			fmt.Fprintf(&b, "✅ %s\n", part)
		}
	}
	return b.String()
}

func (n *Notifier) NotifyResolution(trade *models.Trade, question string) {
	var pnl float64
	if trade.PnL != nil {
		pnl = *trade.PnL
	}
	cost := trade.Amount + trade.Fee
	payout := pnl + cost

	label := question
	if label == "" {
		label = trade.MarketID
	}

	header := "❌ <b>Loss</b>"
	if pnl > 0 {
		header = "✅ <b>Win!</b>"
	}
	n.send(fmt.Sprintf(
		"%s\n\U0001F4CB %s\n\n\U0001F4B0 Cost: $%.2f\n\U0001F4B5 Payout: $%.2f\n\U0001F4C8 Net: $%+.2f",
		header, label, cost, payout, pnl,
	))
}

func (n *Notifier) NotifyCircuitBreaker(reason string) {
	n.send(fmt.Sprintf(
		"\U0001F6A8 <b>Circuit breaker tripped</b>\n\n\U0001F4CB Reason: %s\n\U0001F6D1 New trades halted.\n\nResume with /resume",
		reason,
	))
}

// NotifyDailySummary reports the day's closing state. prevBalance is
// the balance roughly 24h ago, or nil when no old snapshot exists.
func (n *Notifier) NotifyDailySummary(snap models.PortfolioSnapshot, prevBalance *float64) {
	var b strings.Builder
	b.WriteString("\U0001F4CA <b>Daily summary</b>\n\n")
	fmt.Fprintf(&b, "\U0001F4B0 Balance: $%.2f\n", snap.Balance)
	if prevBalance != nil && *prevBalance > 0 {
		diff := snap.Balance - *prevBalance
		fmt.Fprintf(&b, "\U0001F4C8 vs yesterday: $%+.2f (%+.1f%%)\n", diff, diff / *prevBalance*100)
	}
	fmt.Fprintf(&b, "\U0001F4CA Trades: %d (%dW / %dL)\n", snap.TotalTrades, snap.Wins, snap.Losses)
	fmt.Fprintf(&b, "\U0001F3AF Win rate: %.1f%%\n", snap.WinRate()*100)
	fmt.Fprintf(&b, "\U0001F4C9 Total PnL: $%+.2f\n", snap.TotalPnL)
	fmt.Fprintf(&b, "\U0001F4C9 Max drawdown: %.1f%%", snap.MaxDrawdown*100)
	n.send(b.String())
}

func (n *Notifier) NotifyError(message string) {
	n.send(fmt.Sprintf("\U0001F6A8 <b>Error</b>\n%s", message))
}
